// Package cache implements the ozwcache_0x<HomeID>.xml
// snapshot of discovered network state.
package cache

import ("encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"zwavehost/node"
	"zwavehost/stage"
	"zwavehost/value")

// Namespace and SchemaVersion are the required root-element attributes
// ("Require attribute xmlns... and version = 4").
const (Namespace = "https://github.com/OpenZWave/open-zwave"
	SchemaVersion = 4)

// ErrWrongNamespace and ErrHomeIDMismatch are the documented rejection
// reasons for a cache read.
var (ErrWrongNamespace = errors.New("cache: xmlns attribute mismatch")
	ErrHomeIDMismatch = errors.New("cache: home id does not match controller")
	ErrWrongVersion = errors.New("cache: unsupported schema version"))

type xmlValue struct {
	Genre byte `xml:"genre,attr"`
	CC byte `xml:"command_class_id,attr"`
	Instance byte `xml:"instance,attr"`
	Index byte `xml:"index,attr"`
	Kind byte `xml:"type,attr"`
	Label string `xml:"label,attr,omitempty"`
	Data string `xml:"data,attr"`
}

type xmlCommandClass struct {
	ID byte `xml:"id,attr"`
	Version byte `xml:"version,attr"`
	Secured bool `xml:"secured,attr,omitempty"`
	Values []xmlValue `xml:"Value"`
}

type xmlNode struct {
	ID byte `xml:"id,attr"`
	Listening bool `xml:"listening,attr,omitempty"`
	FreqListening bool `xml:"frequent_listening,attr,omitempty"`
	Routing bool `xml:"routing,attr,omitempty"`
	Beaming bool `xml:"beaming,attr,omitempty"`
	Security bool `xml:"security,attr,omitempty"`
	BaudClass byte `xml:"max_baud_rate,attr,omitempty"`
	Basic byte `xml:"basic,attr"`
	Generic byte `xml:"generic,attr"`
	Specific byte `xml:"specific,attr"`
	CommandClasses []xmlCommandClass `xml:"CommandClasses>CommandClass"`
	Neighbors string `xml:"Neighbors>value,omitempty"`
}

type xmlDriver struct {
	XMLName xml.Name `xml:"Driver"`
	Xmlns string `xml:"xmlns,attr"`
	Version int `xml:"version,attr"`
	HomeID string `xml:"home_id,attr"`
	NodeID byte `xml:"node_id,attr"`
	PollInt int `xml:"poll_interval,attr,omitempty"`
	Nodes []xmlNode `xml:"Node"`
}

// Path returns the conventional cache file path for homeID under dir
// ("ozwcache_0x<HOMEID>.xml").
func Path(dir string, homeID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("ozwcache_0x%08x.xml", homeID))
}

// Write serializes every node in nodes whose query stage has reached
// CacheLoad into the cache file at path ("only nodes whose
// query stage has reached CacheLoad").
func Write(path string, homeID uint32, controllerNodeID byte, nodes []*node.Node) error {
	doc := xmlDriver{
		Xmlns: Namespace,
		Version: SchemaVersion,
		HomeID: fmt.Sprintf("0x%08x", homeID),
		NodeID: controllerNodeID,
	}

	for _, n := range nodes {
		if !stage.AtLeast(n.Stage(), stage.CacheLoad) {
			continue
		}
		doc.Nodes = append(doc.Nodes, toXMLNode(n))
	}

	out, err := xml.MarshalIndent(doc, "", " ")
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	out = append([]byte(xml.Header), out...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	return nil
}

// Read parses the cache file at path, validating it against homeID, and
// returns the Nodes it describes, each with its query stage set to
// CacheLoad so only live-refresh stages run().
func Read(path string, homeID uint32) ([]*node.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", path, err)
	}

	var doc xmlDriver
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("cache: parse: %w", err)
	}
	if doc.Xmlns != Namespace {
		return nil, ErrWrongNamespace
	}
	if doc.Version != SchemaVersion {
		return nil, ErrWrongVersion
	}
	wantHomeID := fmt.Sprintf("0x%08x", homeID)
	if doc.HomeID != wantHomeID {
		return nil, ErrHomeIDMismatch
	}

	nodes := make([]*node.Node, 0, len(doc.Nodes))
	for _, xn := range doc.Nodes {
		nodes = append(nodes, fromXMLNode(homeID, xn))
	}
	return nodes, nil
}

func toXMLNode(n *node.Node) xmlNode {
	xn := xmlNode{
		ID: n.ID,
		Listening: n.Protocol.Listening,
		FreqListening: n.Protocol.FrequentListening,
		Routing: n.Protocol.Routing,
		Beaming: n.Protocol.Beaming,
		Security: n.Protocol.Security,
		BaudClass: n.Protocol.BaudClass,
		Basic: n.Protocol.Basic,
		Generic: n.Protocol.Generic,
		Specific: n.Protocol.Specific,
	}

	ccs := make(map[byte]*xmlCommandClass)
	var order []byte
	for _, cc := range n.CommandClasses() {
		ccs[cc.ID] = &xmlCommandClass{ID: cc.ID, Version: cc.Version, Secured: cc.Secured}
		order = append(order, cc.ID)
	}
	for _, v := range n.Values() {
		xc, ok := ccs[v.ID.CommandClassID]
		if !ok {
			xc = &xmlCommandClass{ID: v.ID.CommandClassID}
			ccs[v.ID.CommandClassID] = xc
			order = append(order, v.ID.CommandClassID)
		}
		xc.Values = append(xc.Values, xmlValue{
			Genre: byte(v.ID.Genre),
			CC: v.ID.CommandClassID,
			Instance: v.ID.Instance,
			Index: v.ID.Index,
			Kind: byte(v.Kind),
			Label: v.Label,
			Data: v.GetAsString(),
		})
	}
	for _, id := range order {
		xn.CommandClasses = append(xn.CommandClasses, *ccs[id])
	}

	neighbors := n.Neighbors()
	xn.Neighbors = hex.EncodeToString(neighbors[:])
	return xn
}

func fromXMLNode(homeID uint32, xn xmlNode) *node.Node {
	n := node.New(xn.ID)
	n.Protocol = node.ProtocolInfo{
		Listening: xn.Listening,
		FrequentListening: xn.FreqListening,
		Routing: xn.Routing,
		Beaming: xn.Beaming,
		Security: xn.Security,
		BaudClass: xn.BaudClass,
		Basic: xn.Basic,
		Generic: xn.Generic,
		Specific: xn.Specific,
	}
	for _, xc := range xn.CommandClasses {
		n.AddCommandClass(&node.CommandClass{ID: xc.ID, Version: xc.Version, Secured: xc.Secured})
		for _, xv := range xc.Values {
			id := value.ID{
				HomeID: homeID,
				NodeID: xn.ID,
				Genre: value.Genre(xv.Genre),
				CommandClassID: xv.CC,
				Instance: xv.Instance,
				Index: xv.Index,
			}
			v := value.New(id, value.Kind(xv.Kind))
			v.Label = xv.Label
			v.SetString(xv.Data)
			n.SetValue(v)
		}
	}
	if raw, err := hex.DecodeString(xn.Neighbors); err == nil && len(raw) == node.NeighborBitmapSize {
		var bitmap [node.NeighborBitmapSize]byte
		copy(bitmap[:], raw)
		n.SetNeighbors(bitmap)
	}

	n.SetStage(stage.CacheLoad)
	return n
}
