package world

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentcraft.ai/internal/agent/ports"
)

const maxSignText = 64

// FormatSign renders a knowledge entry as sign text, e.g. "[FOREST] 10,64,-3".
func FormatSign(category string, p ports.Vec3) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(category), p)
}

// ParseSign is the inverse of FormatSign. Text that is not an entry reports false.
func ParseSign(text string) (string, ports.Vec3, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return "", ports.Vec3{}, false
	}
	end := strings.IndexByte(text, ']')
	if end <= 1 {
		return "", ports.Vec3{}, false
	}
	p, err := ports.ParseVec3(text[end+1:])
	if err != nil {
		return "", ports.Vec3{}, false
	}
	return strings.ToLower(text[1:end]), p, true
}

// AddSign puts a sign at p. An empty id is assigned.
func (w *World) AddSign(id string, p ports.Vec3, text, by string) (string, error) {
	if len(text) > maxSignText {
		return "", fmt.Errorf("sign at %s: text longer than %d", p, maxSignText)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addSign(id, p, text, by), nil
}

func (w *World) addSign(id string, p ports.Vec3, text, by string) string {
	if id == "" {
		w.nextSign++
		id = fmt.Sprintf("sign-%d", w.nextSign)
	}
	w.signs[id] = &Sign{ID: id, Pos: p, Text: text, By: by}
	w.blocks[p] = "sign"
	return id
}

// ReadEntries reads every parsable sign within the observation radius of hint.
func (b *Body) ReadEntries(ctx context.Context, hint ports.Vec3) ([]ports.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []ports.KnowledgeEntry
	for _, s := range w.signs {
		if ports.Manhattan(s.Pos, hint) > w.cfg.ObsRadius {
			continue
		}
		cat, p, ok := ParseSign(s.Text)
		if !ok {
			continue
		}
		out = append(out, ports.KnowledgeEntry{SourceID: s.ID, Category: cat, Pos: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

// WriteEntry puts a sign for the entry on the first free cell next to the agent.
func (b *Body) WriteEntry(ctx context.Context, category string, p ports.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if category == "" {
		return fmt.Errorf("write entry: empty category")
	}
	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	a, err := b.agent()
	if err != nil {
		return err
	}
	for _, d := range signOffsets {
		at := a.Pos.Add(d)
		if _, taken := w.blocks[at]; taken {
			continue
		}
		w.addSign("", at, FormatSign(category, p), a.ID)
		return nil
	}
	return fmt.Errorf("write entry: no free cell next to %s", a.Pos)
}

var signOffsets = []ports.Vec3{
	{X: 1}, {X: -1}, {Z: 1}, {Z: -1},
	{X: 1, Z: 1}, {X: -1, Z: -1}, {X: 1, Z: -1}, {X: -1, Z: 1},
}
