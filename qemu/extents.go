package qemu

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// contextBaseAllocation is the default NBD metadata context queried when no
// explicit context is given.
const contextBaseAllocation = "base:allocation"

// Extent describes one region of an exported disk as reported by the NBD
// server's allocation metadata. Data is false for regions carrying no
// payload: holes under base allocation, clean blocks under a checkpoint
// bitmap context.
type Extent struct {
	Data   bool  `json:"data"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// parseExtents decodes the JSON extent list printed by nbdinfo. The extent
// type field is interpreted against the metadata context the map was queried
// with.
func parseExtents(raw []byte, metaContext string) ([]Extent, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("unexpected extent map output: %s", parsed.Type)
	}
	var extents []Extent
	for _, entry := range parsed.Array() {
		extents = append(extents, Extent{
			Data:   blockType(entry.Get("type").Int(), metaContext),
			Offset: entry.Get("offset").Int(),
			Length: entry.Get("length").Int(),
		})
	}
	return extents, nil
}

// blockType reports whether an extent of the given type carries data.
//
// Under base allocation the types are 0 ("allocated"), 1 ("hole"),
// 2 ("zero") and 3 ("hole,zero"): allocated and zero extents carry data,
// holes do not. Under a checkpoint bitmap context the type is 1 for dirty
// and 0 for clean blocks, and only dirty blocks carry data.
func blockType(t int64, metaContext string) bool {
	if metaContext == "" || metaContext == contextBaseAllocation {
		return t == 0 || t == 2
	}
	return t != 0
}

// MarshalExtents renders an extent list as the JSON block map consumed by
// the nbdkit mapping plugin.
func MarshalExtents(extents []Extent) ([]byte, error) {
	return json.Marshal(extents)
}
