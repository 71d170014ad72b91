package suggest

import (
	"fmt"
	"strings"
)

// Language selects the language of generated metadata.
type Language string

const (
	English  Language = "en"
	Japanese Language = "ja"
)

// ParseLanguage returns Japanese for "ja" (any case) and English otherwise.
func ParseLanguage(s string) Language {
	if strings.EqualFold(strings.TrimSpace(s), string(Japanese)) {
		return Japanese
	}
	return English
}

func (l Language) name() string {
	if l == Japanese {
		return "Japanese"
	}
	return "English"
}

func systemPrompt(l Language) string {
	example := `{"results":[{"id":"imageId","title":"Title","description":"Description","tags":["tag1","tag2"]}]}`
	if l == Japanese {
		example = `{"results":[{"id":"imageId","title":"タイトル","description":"説明","tags":["タグ1","タグ2"]}]}`
	}
	n := l.name()
	return fmt.Sprintf(`You are a photo metadata assistant. For each image return:
- title: a concise %[1]s description (around 6-10 words, up to ~60 characters)
- description: a natural %[1]s sentence (~1 sentence) describing the key subject and context
- tags: up to twelve %[1]s keywords ordered from most important to least important. Do not include symbols or punctuation.

Respond only with JSON in the exact shape:
%[2]s`, n, example)
}

func promptIntro(l Language, count int) string {
	if l == Japanese {
		if count == 1 {
			return "下記の画像に対して、日本語のタイトル・一文の説明・重要度順のタグ12個を生成してください。"
		}
		return fmt.Sprintf("下記の%d枚の画像それぞれに対して、日本語のタイトル・一文の説明・重要度順のタグ12個を生成してください。", count)
	}
	if count == 1 {
		return "Generate an English title, one-sentence description, and twelve English tags (ordered most important to least important) for the image below."
	}
	return fmt.Sprintf("Generate an English title, one-sentence description, and twelve English tags (ordered most important to least important) for each of the %d images below.", count)
}
