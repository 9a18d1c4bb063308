// Package artifact turns a completed job's raw output document into artifact
// references and fetches their bytes under bounded concurrency and a global
// memory ceiling.
package artifact

import (
	"encoding/json"
	"sort"
)

// Media is the artifact media class.
type Media string

const (
	// MediaImage marks a produced image.
	MediaImage Media = "image"
	// MediaVideo marks a produced video.
	MediaVideo Media = "video"
)

// Ref locates one produced artifact on the server. Immutable once extracted.
type Ref struct {
	Filename  string
	Subfolder string
	// FolderType is the server-side storage class ("output", "temp", ...).
	// Empty defaults to "output" at fetch time.
	FolderType string
	Media      Media
	// Node is the id of the graph node that produced the artifact.
	Node string
}

// rawEntry is the wire shape of one artifact inside an output collection.
type rawEntry struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// rawNodeOutput is the wire shape of one node's output document. Video
// producer nodes label their collection "gifs" rather than "videos".
type rawNodeOutput struct {
	Images []rawEntry `json:"images"`
	Videos []rawEntry `json:"videos"`
	Gifs   []rawEntry `json:"gifs"`
}

// Extract flattens a raw outputs document into artifact refs.
//
// Every node entry is scanned for its "images", "videos", and "gifs"
// collections. Entries without a filename are skipped; missing subfolder and
// folder type default to empty. Node ids are visited in sorted order so the
// result is deterministic, but callers may rely only on artifacts from the
// same node being contiguous.
func Extract(outputs map[string]json.RawMessage) []Ref {
	nodes := make([]string, 0, len(outputs))
	for id := range outputs {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	var refs []Ref
	for _, id := range nodes {
		var out rawNodeOutput
		if err := json.Unmarshal(outputs[id], &out); err != nil {
			// Nodes with non-artifact output shapes carry nothing to fetch.
			continue
		}
		refs = appendRefs(refs, id, out.Images, MediaImage)
		refs = appendRefs(refs, id, out.Videos, MediaVideo)
		refs = appendRefs(refs, id, out.Gifs, MediaVideo)
	}
	return refs
}

func appendRefs(refs []Ref, node string, entries []rawEntry, media Media) []Ref {
	for _, e := range entries {
		if e.Filename == "" {
			continue
		}
		refs = append(refs, Ref{
			Filename:   e.Filename,
			Subfolder:  e.Subfolder,
			FolderType: e.Type,
			Media:      media,
			Node:       node,
		})
	}
	return refs
}
