package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/reasoner.txt
	reasonerRaw string

	//go:embed template/extractor.txt
	extractorRaw string

	//go:embed template/caption.txt
	captionRaw string
)

// PromptSet holds loaded prompt content. Reasoner and Extractor are rendered
// with schema.FString, so literal braces are doubled in the templates.
type PromptSet struct {
	Reasoner  string
	Extractor string
	Caption   string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Reasoner:  strings.TrimSpace(reasonerRaw),
		Extractor: strings.TrimSpace(extractorRaw),
		Caption:   strings.TrimSpace(captionRaw),
	}
}
