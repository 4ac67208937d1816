// Package nikindex maintains the global NIK -> family card ContentID index.
//
// The index is an immutable value. Patch returns a new Index and never touches
// the receiver, so a snapshot read at the start of an approval stays valid
// for the whole approval even if another approval commits meanwhile.
package nikindex

import (
	"encoding/json"
	"fmt"
	"sort"

	id "dukcapil/pkg/domain"
)

const snapshotVersion = 1

// Index maps every NIK on a current card to that card's ContentID.
type Index struct {
	entries map[id.NIK]id.ContentID
}

// Empty returns an index with no entries.
func Empty() Index { return Index{} }

// FromMap copies m into a new index.
func FromMap(m map[id.NIK]id.ContentID) Index {
	entries := make(map[id.NIK]id.ContentID, len(m))
	for k, v := range m {
		entries[k] = v
	}
	return Index{entries: entries}
}

// Lookup returns the ContentID of the card currently holding nik.
func (i Index) Lookup(nik id.NIK) (id.ContentID, bool) {
	cid, ok := i.entries[nik]
	return cid, ok
}

func (i Index) Len() int { return len(i.entries) }

// NIKs returns all indexed NIKs in ascending order.
func (i Index) NIKs() []id.NIK {
	out := make([]id.NIK, 0, len(i.entries))
	for k := range i.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Map returns a copy of the entries.
func (i Index) Map() map[id.NIK]id.ContentID {
	return FromMap(i.entries).entries
}

// Change repoints NIK to ContentID, or removes NIK when ContentID is empty.
type Change struct {
	NIK       id.NIK
	ContentID id.ContentID
}

func Set(nik id.NIK, cid id.ContentID) Change { return Change{NIK: nik, ContentID: cid} }
func Remove(nik id.NIK) Change                { return Change{NIK: nik} }

func (c Change) IsRemove() bool { return c.ContentID.IsNil() }

// Patch applies changes in order and returns the resulting index. Later
// changes to the same NIK win.
func (i Index) Patch(changes []Change) Index {
	out := FromMap(i.entries)
	for _, c := range changes {
		if c.IsRemove() {
			delete(out.entries, c.NIK)
			continue
		}
		out.entries[c.NIK] = c.ContentID
	}
	return out
}

type snapshotJSON struct {
	Version int                     `json:"version"`
	Entries map[id.NIK]id.ContentID `json:"entries"`
}

func (i Index) MarshalJSON() ([]byte, error) {
	entries := i.entries
	if entries == nil {
		entries = map[id.NIK]id.ContentID{}
	}
	return json.Marshal(snapshotJSON{Version: snapshotVersion, Entries: entries})
}

func (i *Index) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Version != snapshotVersion {
		return fmt.Errorf("unsupported index snapshot version %d", raw.Version)
	}
	*i = FromMap(raw.Entries)
	return nil
}

// Snapshot is an index together with the ContentID it was loaded from.
// ContentID is empty for the initial, never-persisted index.
type Snapshot struct {
	Index     Index
	ContentID id.ContentID
}
