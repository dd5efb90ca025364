package store

import "github.com/example/medsupply-storefront/internal/domain/cart"

// writeSet buffers the writes of one unit for backends that commit in a
// single batch at the end. Reads inside the unit are layered over it.
type writeSet struct {
	puts    map[string]cart.LineItem
	deletes map[string]cart.LineItem // id -> record as committed before the unit
}

type baseGetter func(id string) (cart.LineItem, bool, error)

func newWriteSet() *writeSet {
	return &writeSet{
		puts:    make(map[string]cart.LineItem),
		deletes: make(map[string]cart.LineItem),
	}
}

func (w *writeSet) get(id string, base baseGetter) (cart.LineItem, bool, error) {
	if item, ok := w.puts[id]; ok {
		return item, true, nil
	}
	if _, ok := w.deletes[id]; ok {
		return cart.LineItem{}, false, nil
	}
	return base(id)
}

func (w *writeSet) put(item cart.LineItem) {
	w.puts[item.ID] = item
}

func (w *writeSet) delete(id string, base baseGetter) error {
	delete(w.puts, id)
	if _, ok := w.deletes[id]; ok {
		return nil
	}
	committed, ok, err := base(id)
	if err != nil {
		return err
	}
	if ok {
		w.deletes[id] = committed
	}
	return nil
}

// merge layers the buffered writes over committed records. Buffered puts are
// included when keep accepts them.
func (w *writeSet) merge(committed []cart.LineItem, keep func(cart.LineItem) bool) []cart.LineItem {
	out := make([]cart.LineItem, 0, len(committed)+len(w.puts))
	for _, item := range committed {
		if _, ok := w.puts[item.ID]; ok {
			continue
		}
		if _, ok := w.deletes[item.ID]; ok {
			continue
		}
		out = append(out, item)
	}
	for _, item := range w.puts {
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func (w *writeSet) empty() bool {
	return len(w.puts) == 0 && len(w.deletes) == 0
}

func (w *writeSet) size() int {
	return len(w.puts) + len(w.deletes)
}
