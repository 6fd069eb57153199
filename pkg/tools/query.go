package tools

import (
	"fmt"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/rules"
)

var restorationTerms = map[string]string{
	"crown":  "crown 牙冠 single unit",
	"bridge": "bridge 牙橋 fixed partial denture",
	"veneer": "veneer 貼片 瓷貼片 aesthetic",
	"inlay":  "inlay 嵌體",
	"onlay":  "onlay 高嵌體",
}

var categoryTerms = map[string]string{
	"pfm":        "PFM porcelain-fused-to-metal 烤瓷 metal framework",
	"metal-free": "metal-free all-ceramic 全瓷 無金屬",
	"full-cast":  "full-cast full metal 全金屬 alloy",
}

var subtypeTerms = map[string]string{
	"ips-emax":      "IPS e.max lithium disilicate 二矽酸鋰",
	"fmz":           "FMZ full monolithic zirconia 氧化鋯 全鋯",
	"fmz-ultra":     "FMZ Ultra multilayer zirconia 氧化鋯",
	"lava":          "Lava zirconia 氧化鋯",
	"lava-plus":     "Lava Plus high translucency zirconia 氧化鋯",
	"lava-esthetic": "Lava Esthetic fluorescent zirconia 氧化鋯",
	"non-precious":  "non-precious NP base metal 非貴金屬",
	"semi-precious": "semi-precious SP 半貴金屬",
	"high-noble":    "high noble HN 高貴金屬",
	"palladium":     "palladium 鈀金屬",
	"titanium":      "titanium 鈦",
	"pure-titanium": "pure titanium 純鈦",
}

var positionTerms = map[string]string{
	"anterior":  "anterior 前牙 aesthetic zone",
	"posterior": "posterior 後牙 high strength chewing load",
}

// BuildQuery turns the draft into a semantically rich, bilingual catalog query:
// restoration type, material, tooth positions with quadrant names, position
// type, bridge span and any clinical notes.
func BuildQuery(d domain.OrderDraft, notes string) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(termOr(restorationTerms, d.RestorationType))
	add(termOr(categoryTerms, d.MaterialCategory))
	add(termOr(subtypeTerms, d.MaterialSubtype))

	if len(d.ToothPositions) > 0 {
		var teeth []string
		for _, code := range d.ToothPositions {
			if t, err := rules.ParseTooth(code); err == nil {
				teeth = append(teeth, code+" "+t.Describe())
			}
		}
		add("teeth 牙位 " + strings.Join(teeth, ", "))
	}
	pos := d.PositionType
	if pos == "" && len(d.ToothPositions) > 0 {
		pos = rules.PositionTypeOf(d.ToothPositions)
	}
	add(positionTerms[pos])

	if d.IsBridge && d.BridgeSpan > 0 {
		add(fmt.Sprintf("%d-unit bridge %d單位牙橋", d.BridgeSpan, d.BridgeSpan))
	}
	add(notes)
	return strings.Join(parts, " | ")
}

func termOr(terms map[string]string, key string) string {
	if key == "" {
		return ""
	}
	if t, ok := terms[key]; ok {
		return t
	}
	return key
}
