package dom

import (
	"slices"

	"golang.org/x/net/html"
)

// RecordType classifies a mutation record.
type RecordType int

const (
	ChildList RecordType = iota
	Attributes
)

// Record describes one mutation, in the shape of a DOM MutationRecord.
type Record struct {
	Type     RecordType
	Target   *html.Node
	Added    []*html.Node
	Removed  []*html.Node
	Name     string // attribute name for Attributes records
	OldValue string
}

// InsertHook sees every node right before it is attached by the document.
type InsertHook func(n *html.Node)

// InterceptInsert installs a hook on the document's insertion entry point.
func (d *Document) InterceptInsert(h InsertHook) {
	d.insertHooks = append(d.insertHooks, h)
}

// MutationObserver receives batches of records for the whole document.
type MutationObserver struct {
	doc    *Document
	cb     func([]Record)
	queue  []Record
	active bool
}

// Observe subscribes cb to every mutation of the document subtree.
func (d *Document) Observe(cb func([]Record)) *MutationObserver {
	o := &MutationObserver{doc: d, cb: cb, active: true}
	d.observers = append(d.observers, o)
	return o
}

// Disconnect stops delivery and drops queued records.
func (o *MutationObserver) Disconnect() {
	if !o.active {
		return
	}
	o.active = false
	o.queue = nil
	o.doc.observers = slices.DeleteFunc(o.doc.observers, func(x *MutationObserver) bool { return x == o })
}

// Active reports whether the observer is still subscribed.
func (o *MutationObserver) Active() bool { return o.active }

// TakeRecords empties and returns the pending queue.
func (o *MutationObserver) TakeRecords() []Record {
	q := o.queue
	o.queue = nil
	return q
}

// Flush delivers pending records synchronously.
func (d *Document) Flush() { d.deliver() }

func (d *Document) queueRecord(r Record) {
	if len(d.observers) == 0 {
		return
	}
	for _, o := range d.observers {
		o.queue = append(o.queue, r)
	}
	if !d.deliveryQueued && d.microtask != nil {
		d.deliveryQueued = true
		d.microtask(d.deliver)
	}
}

func (d *Document) deliver() {
	d.deliveryQueued = false
	for _, o := range slices.Clone(d.observers) {
		if !o.active {
			continue
		}
		if recs := o.TakeRecords(); len(recs) > 0 {
			o.cb(recs)
		}
	}
}

// AppendChild attaches child as the last child of parent, moving it if it
// is already attached somewhere.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore attaches child before ref (or last when ref is nil). Moving
// an attached child keeps its listeners.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.detach(child)
	}
	for _, h := range d.insertHooks {
		h(child)
	}
	parent.InsertBefore(child, ref)
	if d.Contains(parent) {
		d.queueRecord(Record{Type: ChildList, Target: parent, Added: []*html.Node{child}})
	}
}

// RemoveChild detaches n. Listeners registered on n or its descendants are
// cancelled.
func (d *Document) RemoveChild(n *html.Node) error {
	if n.Parent == nil {
		return ErrDetached
	}
	d.detach(n)
	d.dropListeners(n)
	return nil
}

func (d *Document) detach(n *html.Node) {
	parent := n.Parent
	connected := d.Contains(parent)
	parent.RemoveChild(n)
	if connected {
		d.queueRecord(Record{Type: ChildList, Target: parent, Removed: []*html.Node{n}})
	}
}

// SetAttr sets attribute key on n.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	old, had := "", false
	for i := range n.Attr {
		a := &n.Attr[i]
		if a.Namespace == "" && a.Key == key {
			old, had = a.Val, true
			if a.Val == val {
				return
			}
			a.Val = val
			break
		}
	}
	if !had {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	if d.Contains(n) {
		d.queueRecord(Record{Type: Attributes, Target: n, Name: key, OldValue: old})
	}
}

// RemoveAttr deletes attribute key from n and reports whether it was set.
func (d *Document) RemoveAttr(n *html.Node, key string) bool {
	idx := slices.IndexFunc(n.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && a.Key == key
	})
	if idx < 0 {
		return false
	}
	old := n.Attr[idx].Val
	n.Attr = slices.Delete(n.Attr, idx, idx+1)
	if d.Contains(n) {
		d.queueRecord(Record{Type: Attributes, Target: n, Name: key, OldValue: old})
	}
	return true
}

// SetText replaces the children of n with a single text node.
func (d *Document) SetText(n *html.Node, text string) {
	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	t := &html.Node{Type: html.TextNode, Data: text}
	n.AppendChild(t)
	if d.Contains(n) {
		d.queueRecord(Record{Type: ChildList, Target: n, Added: []*html.Node{t}, Removed: removed})
	}
}
