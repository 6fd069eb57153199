package rules_test

import (
	"testing"

	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTeeth(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		valid     bool
		positions []string
		posType   string
	}{
		{"Comma separated", "14,15,16", true, []string{"14", "15", "16"}, "posterior"},
		{"Space separated", "11 21", true, []string{"11", "21"}, "anterior"},
		{"Chinese comma", "36，37", true, []string{"36", "37"}, "posterior"},
		{"Range expands along arch", "14-16", true, []string{"14", "15", "16"}, "posterior"},
		{"Range across midline", "12-22", true, []string{"12", "11", "21", "22"}, "anterior"},
		{"Position nine", "19", false, nil, ""},
		{"Quadrant five", "51", false, nil, ""},
		{"Not a number", "abc", false, nil, ""},
		{"Empty", "  ", false, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := rules.ValidateTeeth(tt.input)
			assert.Equal(t, tt.valid, rep.Valid, rep.Message)
			if tt.valid {
				assert.Equal(t, tt.positions, rep.Positions)
				assert.Equal(t, tt.posType, rep.PositionType)
				assert.Len(t, rep.Descriptions, len(tt.positions))
			}
		})
	}
}

func TestTooth_Describe(t *testing.T) {
	tooth, err := rules.ParseTooth("11")
	require.NoError(t, err)
	assert.Equal(t, "Upper Right (右上) Central Incisor (中門牙)", tooth.Describe())
	assert.True(t, tooth.Anterior())
}

func TestValidateBridge(t *testing.T) {
	r := rules.Default()

	tests := []struct {
		name  string
		input string
		valid bool
		kind  string
		span  int
	}{
		{"Three unit posterior", "14,15,16", true, "", 3},
		{"Four units across midline", "12,11,21,22", true, "", 4},
		{"Lower arch midline", "41,31,32", true, "", 3},
		{"Gap", "14,16,17", false, rules.ErrKindDiscontinuous, 0},
		{"Too long", "13,14,15,16,17", false, rules.ErrKindTooLong, 0},
		{"Too short", "14,15", false, rules.ErrKindTooShort, 0},
		{"Duplicate", "14,14,15", false, rules.ErrKindDuplicate, 0},
		{"Cross arch", "11,41,21", false, rules.ErrKindCrossArch, 0},
		{"Invalid tooth", "18,19,20", false, rules.ErrKindInvalidTooth, 0},
		{"Missing", "", false, rules.ErrKindMissingPositions, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := r.ValidateBridge(tt.input)
			assert.Equal(t, tt.valid, rep.Valid, rep.Message)
			assert.Equal(t, tt.kind, rep.ErrorKind)
			assert.Equal(t, tt.span, rep.Span)
		})
	}
}

func TestValidateBridge_OrderIndependent(t *testing.T) {
	r := rules.Default()
	inputs := []string{"14,15,16", "16,14,15", "15 16 14", "16-14"}

	first := r.ValidateBridge(inputs[0])
	for _, in := range inputs[1:] {
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, r.ValidateBridge(in), "input %q", in)
		}
	}
}

func TestValidateBridge_ConfiguredThresholds(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.Bridge = rules.BridgeRules{MinUnits: 2, MaxUnits: 6}
	r, err := rules.New(cfg)
	require.NoError(t, err)

	assert.True(t, r.ValidateBridge("14,15").Valid)
	assert.True(t, r.ValidateBridge("13-17").Valid)
	assert.False(t, r.ValidateBridge("12-18").Valid)
}

func TestValidateMaterial(t *testing.T) {
	r := rules.Default()

	t.Run("Compatible with alias category", func(t *testing.T) {
		rep := r.ValidateMaterial("全瓷", "ips-emax", "crown", 0)
		assert.True(t, rep.Valid, rep.Message)
		assert.Equal(t, "metal-free", rep.Category)
		assert.Equal(t, "ips-emax", rep.Subtype)
		assert.Contains(t, rep.CompatibleSubtypes, "lava-esthetic")
	})

	t.Run("Category only lists subtypes", func(t *testing.T) {
		rep := r.ValidateMaterial("pfm", "", "bridge", 3)
		assert.True(t, rep.Valid)
		assert.Equal(t, []string{"titanium", "non-precious", "high-noble", "semi-precious"}, rep.CompatibleSubtypes)
	})

	t.Run("Forbidden category", func(t *testing.T) {
		rep := r.ValidateMaterial("pfm", "", "veneer", 0)
		assert.False(t, rep.Valid)
		assert.Equal(t, rules.ErrKindForbiddenCategory, rep.ErrorKind)
		assert.Equal(t, []string{"metal-free"}, rep.AllowedCategories)
	})

	t.Run("Forbidden subtype", func(t *testing.T) {
		rep := r.ValidateMaterial("metal-free", "composite", "bridge", 3)
		assert.False(t, rep.Valid)
		assert.Equal(t, rules.ErrKindForbiddenSubtype, rep.ErrorKind)
		assert.Equal(t, []string{"ips-emax", "fmz", "lava"}, rep.CompatibleSubtypes)
	})

	t.Run("Incompatible subtype", func(t *testing.T) {
		rep := r.ValidateMaterial("full-cast", "white-gold", "inlay", 0)
		assert.False(t, rep.Valid)
		assert.Equal(t, rules.ErrKindIncompatibleSubtype, rep.ErrorKind)
	})

	t.Run("Long span warning", func(t *testing.T) {
		rep := r.ValidateMaterial("metal-free", "ips-emax", "bridge", 4)
		assert.True(t, rep.Valid)
		assert.Len(t, rep.Warnings, 1)

		rep = r.ValidateMaterial("metal-free", "fmz", "bridge", 4)
		assert.Empty(t, rep.Warnings)
	})

	t.Run("Unsupported restoration", func(t *testing.T) {
		rep := r.ValidateMaterial("pfm", "", "denture", 0)
		assert.Equal(t, rules.ErrKindUnsupportedType, rep.ErrorKind)
	})

	t.Run("Missing category", func(t *testing.T) {
		rep := r.ValidateMaterial("", "", "crown", 0)
		assert.Equal(t, rules.ErrKindMissingParameter, rep.ErrorKind)
	})
}

func TestCanonicalRestoration(t *testing.T) {
	r := rules.Default()
	rt, ok := r.CanonicalRestoration("牙橋")
	assert.True(t, ok)
	assert.Equal(t, "bridge", rt)

	rt, ok = r.CanonicalRestoration("Crown")
	assert.True(t, ok)
	assert.Equal(t, "crown", rt)

	_, ok = r.CanonicalRestoration("implant")
	assert.False(t, ok)
}

func TestSubtypes_IncludesForbidden(t *testing.T) {
	r := rules.Default()
	subs := r.Subtypes("metal-free")
	assert.Equal(t, "ips-emax", subs[0])
	assert.Contains(t, subs, "zineer")
}

func TestParseConfig_OverridesOnlyGivenSections(t *testing.T) {
	cfg, err := rules.ParseConfig([]byte(`
bridge:
  max_units: 6
compatibility:
  crown:
    metal-free:
      allowed: [ips-emax]
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Bridge.MinUnits)
	assert.Equal(t, 6, cfg.Bridge.MaxUnits)

	r, err := rules.New(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"crown"}, r.RestorationTypes())
	assert.Equal(t, []string{"metal-free"}, r.Categories())

	_, ok := r.CanonicalRestoration("bridge")
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.Bridge.MaxUnits = 2
	_, err := rules.New(cfg)
	assert.Error(t, err)
}
