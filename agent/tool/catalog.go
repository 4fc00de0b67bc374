package tool

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/despensero/agent/contract"
)

// Menu is the closed set of tools offered for one turn.
type Menu struct {
	infos   []*schema.ToolInfo
	allowed map[contractx.ToolName]struct{}
}

// MenuFor offers the pantry tools always and a media tool only when the turn
// carries media of that kind.
func MenuFor(kind contractx.EventKind) Menu {
	infos := []*schema.ToolInfo{
		queryPantryInfo(),
		updatePantryInfo(),
		applyExtractionInfo(),
		shoppingListInfo(),
	}
	switch kind {
	case contractx.EventAudio:
		infos = append(infos, transcribeAudioInfo())
	case contractx.EventImage:
		infos = append(infos, captionImageInfo())
	}

	allowed := make(map[contractx.ToolName]struct{}, len(infos))
	for _, info := range infos {
		allowed[contractx.ToolName(info.Name)] = struct{}{}
	}
	return Menu{infos: infos, allowed: allowed}
}

func (m Menu) Infos() []*schema.ToolInfo {
	return m.infos
}

func (m Menu) Allows(name contractx.ToolName) bool {
	_, ok := m.allowed[name]
	return ok
}

func (m Menu) Names() []contractx.ToolName {
	out := make([]contractx.ToolName, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, contractx.ToolName(info.Name))
	}
	return out
}

func queryPantryInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolQueryPantry),
		Desc: "Look up pantry stock. Without item_name lists everything; with it lists every entry whose name contains it.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"item_name": {Type: schema.String, Desc: "Product to look up, e.g. leche"},
		}),
	}
}

func updatePantryInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolUpdatePantry),
		Desc: "Update the pantry from a free-text description of products bought, used up or corrected.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"description": {
				Type:     schema.String,
				Desc:     "Full text describing the products, e.g. 2 cajas de leche y 1 kilo de arroz",
				Required: true,
			},
			"operation_type": {
				Type:     schema.String,
				Desc:     "in: bought or added; out: used up; update: stock correction",
				Enum:     []string{OperationIn, OperationOut, OperationUpdate},
				Required: true,
			},
		}),
	}
}

func applyExtractionInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolApplyExtraction),
		Desc: "Apply an already structured extraction to the pantry.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"action": {
				Type:     schema.String,
				Enum:     []string{string(contractx.ActionUpdate), string(contractx.ActionCreate), string(contractx.ActionQuery), string(contractx.ActionShoppingList)},
				Required: true,
			},
			"items": {
				Type: schema.Array,
				Desc: "Products with absolute quantities",
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"name":     {Type: schema.String, Required: true},
						"quantity": {Type: schema.Integer, Desc: "Non-negative; omit when unknown"},
						"unit":     {Type: schema.String},
					},
				},
				Required: true,
			},
			"rationale": {Type: schema.String, Desc: "One sentence on why"},
		}),
	}
}

func shoppingListInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        string(contractx.ToolShoppingList),
		Desc:        "List products with LOW stock that should be bought.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func transcribeAudioInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolTranscribeAudio),
		Desc: "Transcribe the voice message attached to this turn and propose a pantry extraction.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"media_ref": {Type: schema.String, Desc: "Handle of the attached audio; may be omitted"},
		}),
	}
}

func captionImageInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolCaptionImage),
		Desc: "List the products visible in the photo attached to this turn and propose a pantry extraction.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"media_ref": {Type: schema.String, Desc: "Handle of the attached image; may be omitted"},
		}),
	}
}
