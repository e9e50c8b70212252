package dedupe

import (
	"github.com/ncbi-virus-etl/internal/model"
)

// Dedupe keeps the last record for each uid. Output follows the position of
// each uid's last occurrence, so [A, B, A'] yields [B, A']. Records without
// a uid are dropped.
func Dedupe(records []model.Metadata) []model.Metadata {
	last := make(map[model.RecordID]int, len(records))
	for i, rec := range records {
		if uid := rec.UID(); uid != "" {
			last[uid] = i
		}
	}
	out := make([]model.Metadata, 0, len(last))
	for i, rec := range records {
		if uid := rec.UID(); uid != "" && last[uid] == i {
			out = append(out, rec)
		}
	}
	return out
}

// IDs returns the uid of each record in order.
func IDs(records []model.Metadata) []model.RecordID {
	ids := make([]model.RecordID, 0, len(records))
	for _, rec := range records {
		if uid := rec.UID(); uid != "" {
			ids = append(ids, uid)
		}
	}
	return ids
}
