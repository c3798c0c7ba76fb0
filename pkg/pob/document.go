package pob

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ParseError is returned when decoded text is not a usable build document.
// Text is the offending input, kept so the failure can be diagnosed later.
type ParseError struct {
	Msg  string
	Text string
}

func (e *ParseError) Error() string { return e.Msg }

// Document is the subset of a build export the gate checks. It is not persisted.
type Document struct {
	Level           uint8
	ClassName       string
	AscendClassName string
	MainSocketGroup uint8
	ActiveSpec      uint8
	Skills          int
	Specs           int
	Items           int
	ConfigInputs    int
	Notes           string
}

type xmlDocument struct {
	XMLName xml.Name   `xml:"PathOfBuilding"`
	Build   *xmlBuild  `xml:"Build"`
	Skills  *xmlSkills `xml:"Skills"`
	Tree    *xmlTree   `xml:"Tree"`
	Items   *xmlItems  `xml:"Items"`
	Notes   string     `xml:"Notes"`
	Config  *xmlConfig `xml:"Config"`
}

type xmlBuild struct {
	Level           *string        `xml:"level,attr"`
	ClassName       *string        `xml:"className,attr"`
	AscendClassName *string        `xml:"ascendClassName,attr"`
	MainSocketGroup *string        `xml:"mainSocketGroup,attr"`
	PlayerStats     []xmlBuildStat `xml:"PlayerStat"`
	MinionStats     []xmlBuildStat `xml:"MinionStat"`
}

type xmlBuildStat struct {
	Stat  *string `xml:"stat,attr"`
	Value *string `xml:"value,attr"`
}

type xmlSkills struct {
	Skills    []xmlSkill    `xml:"Skill"`
	SkillSets []xmlSkillSet `xml:"SkillSet"`
}

type xmlSkillSet struct {
	Skills []xmlSkill `xml:"Skill"`
}

type xmlSkill struct {
	MainActiveSkill string   `xml:"mainActiveSkill,attr"`
	Enabled         string   `xml:"enabled,attr"`
	Gems            []xmlGem `xml:"Gem"`
}

type xmlGem struct {
	NameSpec *string `xml:"nameSpec,attr"`
	Level    string  `xml:"level,attr"`
	Quality  string  `xml:"quality,attr"`
}

type xmlTree struct {
	ActiveSpec *string   `xml:"activeSpec,attr"`
	Specs      []xmlSpec `xml:"Spec"`
}

type xmlSpec struct {
	Nodes string `xml:"nodes,attr"`
}

type xmlItems struct {
	Items []xmlItem `xml:"Item"`
	Slots []xmlSlot `xml:"Slot"`
}

type xmlItem struct {
	ID *string `xml:"id,attr"`
}

type xmlSlot struct {
	ItemID *string `xml:"itemId,attr"`
}

type xmlConfig struct {
	Inputs []xmlInput `xml:"Input"`
}

type xmlInput struct {
	Name    *string `xml:"name,attr"`
	Boolean string  `xml:"boolean,attr"`
	Number  string  `xml:"number,attr"`
}

// Parse checks that text is a structurally valid Path of Building export.
func Parse(text string) (*Document, error) {
	var raw xmlDocument
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = true
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Msg: "malformed xml: " + err.Error(), Text: text}
	}
	p := &parser{text: text}
	doc := p.document(&raw)
	if p.err != nil {
		return nil, p.err
	}
	return doc, nil
}

type parser struct {
	text string
	err  *ParseError
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Msg: fmt.Sprintf(format, args...), Text: p.text}
	}
}

func (p *parser) required(path string, v *string) string {
	if v == nil {
		p.fail("%s: missing", path)
		return ""
	}
	return *v
}

func (p *parser) uint(path, s string, bits int) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
	if err != nil {
		p.fail("%s: invalid u%d %q", path, bits, s)
		return 0
	}
	return v
}

func (p *parser) optionalUint(path, s string, bits int) {
	if s == "" {
		return
	}
	p.uint(path, s, bits)
}

func (p *parser) document(raw *xmlDocument) *Document {
	doc := &Document{Notes: raw.Notes}
	if raw.Build == nil {
		p.fail("Build: missing")
		return nil
	}
	if raw.Skills == nil {
		p.fail("Skills: missing")
		return nil
	}
	if raw.Tree == nil {
		p.fail("Tree: missing")
		return nil
	}
	p.build(raw.Build, doc)
	p.skills(raw.Skills, doc)
	p.tree(raw.Tree, doc)
	if raw.Items != nil {
		p.items(raw.Items, doc)
	}
	if raw.Config != nil {
		p.config(raw.Config, doc)
	}
	return doc
}

func (p *parser) build(b *xmlBuild, doc *Document) {
	doc.Level = uint8(p.uint("Build.level", p.required("Build.level", b.Level), 8))
	doc.ClassName = p.required("Build.className", b.ClassName)
	doc.AscendClassName = p.required("Build.ascendClassName", b.AscendClassName)
	doc.MainSocketGroup = uint8(p.uint("Build.mainSocketGroup", p.required("Build.mainSocketGroup", b.MainSocketGroup), 8))
	for _, st := range append(b.PlayerStats, b.MinionStats...) {
		p.required("Build.PlayerStat.stat", st.Stat)
		p.required("Build.PlayerStat.value", st.Value)
	}
}

func (p *parser) skills(s *xmlSkills, doc *Document) {
	all := s.Skills
	for _, set := range s.SkillSets {
		all = append(all, set.Skills...)
	}
	for _, sk := range all {
		if sk.MainActiveSkill != "" && sk.MainActiveSkill != "nil" {
			p.uint("Skill.mainActiveSkill", sk.MainActiveSkill, 8)
		}
		if sk.Enabled != "" {
			if _, err := strconv.ParseBool(sk.Enabled); err != nil {
				p.fail("Skill.enabled: invalid bool %q", sk.Enabled)
			}
		}
		for _, g := range sk.Gems {
			p.required("Gem.nameSpec", g.NameSpec)
			p.optionalUint("Gem.level", g.Level, 8)
			p.optionalUint("Gem.quality", g.Quality, 8)
		}
	}
	doc.Skills = len(all)
}

func (p *parser) tree(t *xmlTree, doc *Document) {
	doc.ActiveSpec = uint8(p.uint("Tree.activeSpec", p.required("Tree.activeSpec", t.ActiveSpec), 8))
	if len(t.Specs) == 0 {
		p.fail("Tree.Spec: missing")
		return
	}
	for _, sp := range t.Specs {
		if sp.Nodes == "" {
			continue
		}
		for _, n := range strings.Split(sp.Nodes, ",") {
			p.uint("Spec.nodes", n, 32)
		}
	}
	doc.Specs = len(t.Specs)
}

func (p *parser) items(it *xmlItems, doc *Document) {
	for _, item := range it.Items {
		p.uint("Item.id", p.required("Item.id", item.ID), 16)
	}
	for _, slot := range it.Slots {
		p.uint("Slot.itemId", p.required("Slot.itemId", slot.ItemID), 16)
	}
	doc.Items = len(it.Items)
}

func (p *parser) config(c *xmlConfig, doc *Document) {
	for _, in := range c.Inputs {
		p.required("Config.Input.name", in.Name)
		if in.Boolean != "" {
			if _, err := strconv.ParseBool(in.Boolean); err != nil {
				p.fail("Config.Input.boolean: invalid bool %q", in.Boolean)
			}
		}
		if in.Number != "" {
			if _, err := strconv.ParseFloat(in.Number, 32); err != nil {
				p.fail("Config.Input.number: invalid number %q", in.Number)
			}
		}
	}
	doc.ConfigInputs = len(c.Inputs)
}
