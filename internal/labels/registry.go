// Package labels is the registry of label names used across the simulation,
// with their kind and default half-life in ticks.
package labels

import (
	"sort"
	"strings"
)

// Kind classifies what a label describes.
type Kind uint8

const (
	KindCell      Kind = iota // A discrete cell type
	KindSubstance             // Particles, debris, antigen mass
	KindField                 // Cytokines and chemokines
	KindSurface               // Surface markers and presented peptides
	KindEvent                 // Short-lived state markers
)

var kindNames = [...]string{"cell", "substance", "field", "surface", "event"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a kind name such as "field" back to its Kind.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// Meta describes one registered label.
type Meta struct {
	Name     string  `json:"name" yaml:"name"`
	Kind     Kind    `json:"kind" yaml:"kind"`
	HalfLife float64 `json:"half_life,omitempty" yaml:"half_life,omitempty"` // 0 = does not decay
	Notes    string  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Canonical label names referenced from code.
const (
	Antigen         = "ANTIGEN_FIELD"
	SpilledAntigen  = "SPILLED_ANTIGEN"
	OwnedAntigen    = "OWNED_ANTIGEN"
	IL12            = "IL12"
	IL2             = "IL2"
	IFNG            = "IFNG"
	TNF             = "TNF"
	CCL21           = "CCL21"
	CXCL10          = "CXCL10"
	MHCPeptide      = "MHC_PEPTIDE"
	Infected        = "INFECTED"
	DAMP            = "DAMP"
	PerforinPulse   = "PERFORIN_PULSE"
	DCPresenting    = "DC_PRESENTING"
	AntigenHandover = "ANTIGEN_HANDOVER"
	HighDangerZone  = "HIGH_DANGER_ZONE"
)

var registry = map[string]Meta{
	"EPITHELIAL": {Kind: KindCell, Notes: "lung epithelial cell"},
	"DC":         {Kind: KindCell, Notes: "dendritic cell"},
	"MACROPHAGE": {Kind: KindCell, Notes: "macrophage"},
	"NAIVE_T":    {Kind: KindCell, Notes: "naive T cell (lymph node)"},
	"TH1":        {Kind: KindCell, Notes: "Th1 helper T cell"},
	"CTL":        {Kind: KindCell, Notes: "cytotoxic T lymphocyte"},

	"ANTIGEN_PARTICLE":   {Kind: KindSubstance, Notes: "discrete antigen / viral particle"},
	"VIRUS":              {Kind: KindSubstance, Notes: "intact virus"},
	"DEBRIS":             {Kind: KindSubstance, Notes: "cell debris"},
	SpilledAntigen:       {Kind: KindSubstance, HalfLife: 40, Notes: "antigen released from a dead cell"},
	OwnedAntigen:         {Kind: KindSubstance, HalfLife: 30, Notes: "antigen mass held by a cell"},
	"OPSONIZED_PARTICLE": {Kind: KindSubstance, HalfLife: 30, Notes: "antibody-coated antigen"},
	"PAMP_FRAG":          {Kind: KindSubstance, Notes: "pathogen-associated fragment"},

	Antigen: {Kind: KindField, Notes: "continuous antigen concentration"},
	IL12:    {Kind: KindField, HalfLife: 8, Notes: "drives Th1 differentiation"},
	IL2:     {Kind: KindField, HalfLife: 6, Notes: "supports T cell proliferation"},
	IFNG:    {Kind: KindField, HalfLife: 8, Notes: "activates CTL and DC"},
	TNF:     {Kind: KindField, HalfLife: 10, Notes: "local inflammation"},
	CCL21:   {Kind: KindField, HalfLife: 12, Notes: "lymph node / DC migration"},
	CXCL10:  {Kind: KindField, HalfLife: 12, Notes: "Th1/CTL chemoattractant"},

	"MHC_I":        {Kind: KindSurface, Notes: "MHC class I peptide complex"},
	"MHC_II":       {Kind: KindSurface, Notes: "MHC class II peptide complex"},
	MHCPeptide:     {Kind: KindSurface, HalfLife: 12, Notes: "MHC-bound peptide token"},
	"TCR_PERTYPE":  {Kind: KindSurface, HalfLife: 99999, Notes: "TCR genotype token"},
	"ACE2_PRESENT": {Kind: KindSurface, HalfLife: 99999, Notes: "ACE2 expression marker"},

	Infected:            {Kind: KindEvent, HalfLife: 10, Notes: "cell-level infection marker"},
	"VIRAL_REPLICATING": {Kind: KindEvent, HalfLife: 6, Notes: "active replication"},
	"PRR_ACTIVATED":     {Kind: KindEvent, HalfLife: 6, Notes: "pattern-recognition receptor activated"},
	DAMP:                {Kind: KindEvent, Notes: "danger-associated molecular pattern"},
	"DYING_PRE":         {Kind: KindEvent, HalfLife: 4, Notes: "early dying state"},
	"APOPTOTIC":         {Kind: KindEvent, HalfLife: 6},
	"NECROTIC":          {Kind: KindEvent, HalfLife: 6},
	PerforinPulse:       {Kind: KindEvent, HalfLife: 1, Notes: "CTL perforin release"},
	DCPresenting:        {Kind: KindEvent, HalfLife: 8, Notes: "DC presenting antigen"},
	"CTL_ACTIVE":        {Kind: KindEvent, HalfLife: 6},
	AntigenHandover:     {Kind: KindEvent, HalfLife: 4, Notes: "antigen transfer to a DC"},
	HighDangerZone:      {Kind: KindEvent, HalfLife: 12, Notes: "region-level danger flag"},
}

func init() {
	for name, m := range registry {
		m.Name = name
		registry[name] = m
	}
}

// Canonical normalizes a label name: trimmed, upper-case, '-' and ' ' as '_'.
func Canonical(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", " ", "_").Replace(name)
}

// Lookup returns the metadata for a label, matching case-insensitively.
func Lookup(name string) (Meta, bool) {
	m, ok := registry[Canonical(name)]
	return m, ok
}

// Known reports whether name is a registered label.
func Known(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// OfKind returns the registered labels of kind k, sorted by name.
func OfKind(k Kind) []Meta {
	var out []Meta
	for _, m := range registry {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every registered label sorted by kind then name.
func All() []Meta {
	out := make([]Meta, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// HalfLives returns the default decay table: every registered label with a
// positive half-life. The map is a fresh copy.
func HalfLives() map[string]float64 {
	out := make(map[string]float64)
	for name, m := range registry {
		if m.HalfLife > 0 {
			out[name] = m.HalfLife
		}
	}
	return out
}
