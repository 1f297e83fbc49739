package graphstore

import (
	"encoding/json"
	"sort"
	"strings"
)

// TripletGraph (主语, 谓语, 宾语) 三元组的邻接表。序列化格式为
// {"graph_dict": {subject: [[predicate, object], ...]}}，检索侧按此读取。
type TripletGraph struct {
	adj map[string][][2]string
}

func NewTripletGraph() *TripletGraph {
	return &TripletGraph{adj: make(map[string][][2]string)}
}

// Upsert 追加一条边，完全相同的 (s, p, o) 去重
func (g *TripletGraph) Upsert(subject, predicate, object string) {
	subject = strings.TrimSpace(subject)
	predicate = strings.TrimSpace(predicate)
	object = strings.TrimSpace(object)
	if subject == "" || predicate == "" || object == "" {
		return
	}
	for _, e := range g.adj[subject] {
		if e[0] == predicate && e[1] == object {
			return
		}
	}
	g.adj[subject] = append(g.adj[subject], [2]string{predicate, object})
}

// Size 边总数
func (g *TripletGraph) Size() int {
	n := 0
	for _, edges := range g.adj {
		n += len(edges)
	}
	return n
}

// Subjects 按字典序返回全部主语
func (g *TripletGraph) Subjects() []string {
	out := make([]string, 0, len(g.adj))
	for s := range g.adj {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Edges 某主语的全部 (谓语, 宾语) 边
func (g *TripletGraph) Edges(subject string) [][2]string {
	return g.adj[subject]
}

func (g *TripletGraph) MarshalJSON() ([]byte, error) {
	dict := make(map[string][][]string, len(g.adj))
	for s, edges := range g.adj {
		rows := make([][]string, 0, len(edges))
		for _, e := range edges {
			rows = append(rows, []string{e[0], e[1]})
		}
		dict[s] = rows
	}
	return json.Marshal(map[string]any{"graph_dict": dict})
}

func (g *TripletGraph) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		GraphDict map[string][][]string `json:"graph_dict"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	g.adj = make(map[string][][2]string, len(wrapper.GraphDict))
	for s, rows := range wrapper.GraphDict {
		for _, r := range rows {
			if len(r) != 2 {
				continue
			}
			g.adj[s] = append(g.adj[s], [2]string{r[0], r[1]})
		}
	}
	return nil
}
