package summarizer

import (
	"fmt"
	"strings"

	"github.com/mikeboe/paper-digest/pkg/models"
)

const groundingRule = "Use only the information given below. Never invent or add facts that are not present in the provided text."

const summarizerPersona = "You are a research scientist who analyses and summarizes academic articles. " +
	"You extract the key points and write summaries that stay faithful to the original content. " + groundingRule

const synthesizerPersona = "You are a science-watch expert with a broad overview of your field. " +
	"You identify emerging trends, common ground and important findings across several articles. " + groundingRule

func articlePrompt(a models.Article, groundingContext string) string {
	var b strings.Builder
	b.WriteString("Summarize the following article in 5 to 8 sentences, based ONLY on the content provided.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Original abstract: %s\n\n", a.Abstract)
	if groundingContext != "" {
		fmt.Fprintf(&b, "Related stored articles (use only if relevant):\n%s\n\n", groundingContext)
	}
	b.WriteString("Strict rules:\n")
	b.WriteString("- Never invent or add information\n")
	b.WriteString("- Stay faithful to the article's content\n")
	b.WriteString("- Be clear and concise")
	return b.String()
}

func quickDigestPrompt(articles []models.Article, keyword string) string {
	if len(articles) > QuickDigestArticles {
		articles = articles[:QuickDigestArticles]
	}
	items := make([]string, 0, len(articles))
	for _, a := range articles {
		items = append(items, fmt.Sprintf("- %s: %s", a.Title, truncateRunes(a.Abstract, QuickDigestRunes)))
	}
	return fmt.Sprintf("Write an ultra-concise summary of at most 2 to 3 sentences about the main findings on %q, "+
		"based on these articles:\n\n%s\n\nThe summary must be immediately understandable and informative.",
		keyword, strings.Join(items, "\n\n"))
}

func synthesisPrompt(summaries []models.ArticleSummary, keyword string) string {
	blocks := make([]string, 0, len(summaries))
	for _, s := range summaries {
		blocks = append(blocks, fmt.Sprintf("Article: %s\nSummary: %s", s.Title, s.Summary))
	}
	return fmt.Sprintf("Write a complete global synthesis about %q by analysing the following summaries:\n\n%s\n\n"+
		"Identify:\n"+
		"1. The main trends and recurring themes\n"+
		"2. Notable findings or innovations\n"+
		"3. Points of convergence between the articles\n"+
		"4. Future perspectives and implications\n\n"+
		"Write 10 to 15 sentences, structured and coherent.",
		keyword, strings.Join(blocks, "\n\n"))
}

// truncateRunes keeps the first n runes of s, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
