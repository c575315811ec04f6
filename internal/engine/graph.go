package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Node — узел графа flow.
type Node struct {
	// ID — идентификатор узла из редактора.
	ID string

	// Type — тип узла как он записан на верхнем уровне ("input", "custom", ...).
	Type string

	// Kind — итоговый тип в верхнем регистре: data.type имеет приоритет над Type.
	Kind string

	// Label — подпись узла в редакторе.
	Label string

	// Data — полезная нагрузка узла из редактора.
	Data map[string]any

	// Config — data.config, если есть, иначе Data.
	Config map[string]any
}

// String возвращает значение конфигурации как строку.
func (n *Node) String(key string) string {
	return asString(n.Config[key])
}

// Int возвращает значение конфигурации как число или def.
func (n *Node) Int(key string, def int) int {
	v, ok := asInt(n.Config[key])
	if !ok {
		return def
	}
	return v
}

// Bool возвращает значение конфигурации как bool.
func (n *Node) Bool(key string) bool {
	return asBool(n.Config[key])
}

// Graph — граф узлов flow.
//
// Граф неизменяем после построения. Рёбра, ссылающиеся на
// отсутствующие узлы, отбрасываются. Ацикличность не проверяется:
// узлы на цикле никогда не получают нулевую входящую степень.
type Graph struct {
	// nodes — узлы в порядке объявления.
	nodes []*Node

	// index — nodeID → Node (последний дубликат побеждает).
	index map[string]*Node

	// successors — nodeID → исходящие соседи в порядке рёбер.
	successors map[string][]*Node

	// inDegree — количество входящих рёбер.
	inDegree map[string]int
}

type rawGraph struct {
	Nodes       []rawNode `json:"nodes"`
	Edges       []rawEdge `json:"edges"`
	Connections []rawEdge `json:"connections"`
}

type rawNode struct {
	ID    any            `json:"id"`
	Type  string         `json:"type"`
	Label string         `json:"label"`
	Data  map[string]any `json:"data"`
}

type rawEdge struct {
	Source any `json:"source"`
	Target any `json:"target"`
}

// Parse строит Graph из JSON документа редактора.
//
// Принимает {"nodes": [...], "edges": [...]}; поле "connections"
// используется вместо "edges", если последнего нет.
// Ошибка возвращается только для некорректного JSON.
func Parse(raw []byte) (*Graph, error) {
	var doc rawGraph
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
		}
	}

	g := &Graph{
		index:      make(map[string]*Node),
		successors: make(map[string][]*Node),
		inDegree:   make(map[string]int),
	}

	position := make(map[string]int)
	for _, rn := range doc.Nodes {
		node := newNode(rn)
		if pos, exists := position[node.ID]; exists {
			g.nodes[pos] = node
		} else {
			position[node.ID] = len(g.nodes)
			g.nodes = append(g.nodes, node)
		}
		g.index[node.ID] = node
	}

	edges := doc.Edges
	if edges == nil {
		edges = doc.Connections
	}
	for _, e := range edges {
		from, ok := g.index[asString(e.Source)]
		if !ok {
			continue
		}
		to, ok := g.index[asString(e.Target)]
		if !ok {
			continue
		}
		g.successors[from.ID] = append(g.successors[from.ID], to)
		g.inDegree[to.ID]++
	}

	return g, nil
}

func newNode(rn rawNode) *Node {
	data := rn.Data
	if data == nil {
		data = map[string]any{}
	}

	kind := rn.Type
	if t := asString(data["type"]); t != "" {
		kind = t
	}

	config := data
	if c, ok := data["config"].(map[string]any); ok {
		config = c
	}

	label := rn.Label
	if label == "" {
		label = asString(data["label"])
	}

	return &Node{
		ID:     asString(rn.ID),
		Type:   rn.Type,
		Kind:   strings.ToUpper(kind),
		Label:  label,
		Data:   data,
		Config: config,
	}
}

// Node возвращает узел по ID или nil.
func (g *Graph) Node(id string) *Node {
	return g.index[id]
}

// Nodes возвращает узлы в порядке объявления.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Successors возвращает исходящих соседей в порядке рёбер.
func (g *Graph) Successors(id string) []*Node {
	return g.successors[id]
}

// InDegree возвращает количество входящих рёбер узла.
func (g *Graph) InDegree(id string) int {
	return g.inDegree[id]
}

// InDegrees возвращает копию входящих степеней для обхода Кана.
func (g *Graph) InDegrees() map[string]int {
	out := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		out[id] = d
	}
	return out
}

// FirstOfKind возвращает первый (в порядке объявления) узел одного из типов.
func (g *Graph) FirstOfKind(kinds ...string) *Node {
	for _, n := range g.nodes {
		for _, k := range kinds {
			if n.Kind == k {
				return n
			}
		}
	}
	return nil
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	case float64:
		return x != 0
	default:
		return false
	}
}
