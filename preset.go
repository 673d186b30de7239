package collider

import (
	"bytes"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Cignor/Collider-sub008/internal/graph"
	"github.com/Cignor/Collider-sub008/internal/midicv"
	"github.com/Cignor/Collider-sub008/internal/modules"
	"github.com/Cignor/Collider-sub008/internal/statetree"
	"github.com/Cignor/Collider-sub008/internal/timeline"
)

// presetVersion is written into saved trees; loaders accept anything and
// default what they do not recognize.
const presetVersion = 1

// PresetMeta is the descriptive metadata stored alongside the patch.
type PresetMeta struct {
	Name        string
	Description string
	Tags        []string
}

// SetMeta replaces the preset metadata.
func (h *Host) SetMeta(meta PresetMeta) {
	h.mu.Lock()
	h.meta = meta
	h.mu.Unlock()
}

func (h *Host) Meta() PresetMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta := h.meta
	meta.Tags = append([]string(nil), h.meta.Tags...)
	return meta
}

// ModuleFactory builds a processor from its persisted type name.
type ModuleFactory func(typeName string) (graph.Processor, error)

// DefaultFactory knows every built-in module type.
func DefaultFactory(typeName string) (graph.Processor, error) {
	switch typeName {
	case "midi_cv":
		return midicv.New(), nil
	case "timeline":
		return timeline.New(), nil
	case "poly_osc":
		return modules.NewPolyOsc(), nil
	case "vca":
		return modules.NewVCA(), nil
	case "lfo":
		return modules.NewLFO(), nil
	case "waveshaper":
		return modules.NewWaveshaper(), nil
	}
	return nil, fmt.Errorf("unknown module type %q", typeName)
}

// PresetTree serializes the whole patch: metadata, transport tempo, modules
// with their extra state, and cables.
func (h *Host) PresetTree() *statetree.Node {
	h.mu.Lock()
	defer h.mu.Unlock()

	root := statetree.New("ColliderPreset")
	root.SetInt("version", presetVersion)
	root.Set("name", h.meta.Name)
	root.Set("description", h.meta.Description)
	root.Set("tags", strings.Join(h.meta.Tags, ","))
	root.SetFloat("bpm", h.clock.BPM())
	root.Set("output", h.output)

	mods := root.AddChild("Modules")
	for _, e := range h.modules {
		mn := mods.AddChild("Module")
		mn.Set("name", e.name)
		mn.Set("type", e.proc.TypeName())
		if extra := e.proc.ExtraState(); extra != nil {
			mn.Children = append(mn.Children, extra)
		}
	}

	cabs := root.AddChild("Cables")
	for _, c := range h.cables {
		cn := cabs.AddChild("Cable")
		cn.Set("from", c.From)
		cn.SetInt("fromChannel", c.FromChannel)
		cn.Set("to", c.To)
		cn.SetInt("toChannel", c.ToChannel)
	}
	return root
}

// EncodePreset renders the preset tree to XML bytes, an independent copy
// safe to hand to the background save worker.
func (h *Host) EncodePreset() ([]byte, error) {
	var buf bytes.Buffer
	if err := h.PresetTree().EncodeXML(&buf); err != nil {
		return nil, fmt.Errorf("encode preset: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadPresetTree rebuilds the patch from a persisted tree. The tree is
// untrusted: unknown module types, bad cables, and missing metadata are
// logged and skipped, never fatal. Existing modules are replaced.
func (h *Host) LoadPresetTree(root *statetree.Node, factory ModuleFactory) error {
	if root == nil {
		return fmt.Errorf("load preset: empty tree")
	}
	if factory == nil {
		factory = DefaultFactory
	}

	type loaded struct {
		name string
		proc graph.Processor
	}
	var mods []loaded
	for _, mn := range root.Child("Modules").ChildrenNamed("Module") {
		name := mn.String("name", "")
		typeName := mn.String("type", "")
		if name == "" || typeName == "" {
			h.logger.Warn("preset module missing name or type, skipped")
			continue
		}
		proc, err := factory(typeName)
		if err != nil {
			h.logger.Warn("preset module skipped", zap.String("name", name), zap.Error(err))
			continue
		}
		// Extra state is the first child that is not standard bookkeeping;
		// modules store exactly one tree, named by themselves.
		for _, child := range mn.Children {
			proc.SetExtraState(child)
			break
		}
		mods = append(mods, loaded{name: name, proc: proc})
	}

	h.mu.Lock()
	for _, e := range h.modules {
		e.proc.ReleaseResources()
	}
	h.modules = nil
	h.byName = make(map[string]*moduleEntry)
	h.cables = nil
	h.output = ""
	h.meta = PresetMeta{
		Name:        root.String("name", ""),
		Description: root.String("description", ""),
		Tags:        splitTags(root.String("tags", "")),
	}
	h.clock.SetBPM(root.Float("bpm", 120))
	h.mu.Unlock()

	for _, m := range mods {
		if err := h.AddModule(m.name, m.proc); err != nil {
			h.logger.Warn("preset module rejected", zap.String("name", m.name), zap.Error(err))
		}
	}
	for _, cn := range root.Child("Cables").ChildrenNamed("Cable") {
		from := cn.String("from", "")
		to := cn.String("to", "")
		if err := h.Connect(from, cn.Int("fromChannel", -1), to, cn.Int("toChannel", -1)); err != nil {
			h.logger.Warn("preset cable dropped", zap.String("from", from), zap.String("to", to), zap.Error(err))
		}
	}
	if out := root.String("output", ""); out != "" {
		if err := h.SetOutput(out); err != nil {
			h.logger.Warn("preset output module missing", zap.String("output", out))
		}
	}
	return nil
}

// DecodePreset parses XML bytes and loads them.
func (h *Host) DecodePreset(data []byte, factory ModuleFactory) error {
	root, err := statetree.DecodeXML(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode preset: %w", err)
	}
	return h.LoadPresetTree(root, factory)
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
