// Package jobzone turns a configurator session into the zone records of a
// job and writes them for the enclosing job workflow.
package jobzone

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"

	"github.com/detailhub/zoneconfigurator/model"
)

// CommitResult describes the zones written to a job.
type CommitResult struct {
	JobID       string                `json:"job_id"`
	Zones       []model.JobZoneRecord `json:"zones"`
	TotalPrice  int                   `json:"total_price"`
	CommittedAt time.Time             `json:"committed_at"`
	Replayed    bool                  `json:"replayed"`
}

// ToRecords maps selected zones to the persisted job zone shape, keeping
// their order.
func ToRecords(zones []model.SelectedZone) []model.JobZoneRecord {
	records := make([]model.JobZoneRecord, 0, len(zones))
	for _, z := range zones {
		services := slices.Clone(z.Services)
		if services == nil {
			services = []string{}
		}
		records = append(records, model.JobZoneRecord{
			ZoneName: z.Name,
			ZoneType: string(z.ZoneType),
			Services: services,
			Price:    z.Price,
		})
	}
	return records
}

// Total sums the record prices.
func Total(records []model.JobZoneRecord) int {
	total := 0
	for _, r := range records {
		total += r.Price
	}
	return total
}

// InputHash fingerprints a commit so a reused idempotency key can be told
// apart from a retry.
func InputHash(jobID string, records []model.JobZoneRecord) string {
	data, _ := json.Marshal(struct {
		JobID string                `json:"job_id"`
		Zones []model.JobZoneRecord `json:"zones"`
	}{jobID, records})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
