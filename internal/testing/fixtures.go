package testing

import "github.com/aristath/harvester/internal/domain"

// MonthlyTask builds a task for a monthly resource kind
func MonthlyTask(kind domain.ResourceKind, entity string, year, month int) domain.Task {
	return domain.Task{Entity: entity, Kind: kind, Period: &domain.Period{Year: year, Month: month}}
}

// WholeTask builds a task for a whole-history resource kind
func WholeTask(kind domain.ResourceKind, entity string) domain.Task {
	return domain.Task{Entity: entity, Kind: kind}
}

// Credentials converts plain strings to credentials
func Credentials(keys ...string) []domain.Credential {
	out := make([]domain.Credential, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Credential(k))
	}
	return out
}

// SamplePayload is a minimal JSON body accepted by every store
var SamplePayload = []byte(`{"meta":"sample"}`)
