package validators

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"guardian/internal/models"
)

const maxTripLength = 48 * time.Hour

var platePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{0,19}$`)

// ValidateStartSession runs the struct tags plus the cross-field rules for a
// new trip. now is the server clock.
func ValidateStartSession(req *models.StartSessionRequest, now time.Time) ValidationErrors {
	errors := ValidateStruct(req)

	if (req.DestinationLatitude == nil) != (req.DestinationLongitude == nil) {
		errors = append(errors, ValidationError{
			Field:   "destination_latitude",
			Tag:     "pair",
			Message: "Destination latitude and longitude must be provided together",
		})
	}

	if req.EstimatedArrival != nil {
		if req.EstimatedArrival.Before(now.Add(-time.Minute)) {
			errors = append(errors, ValidationError{
				Field:   "estimated_arrival",
				Tag:     "future",
				Message: "Estimated arrival must be in the future",
			})
		} else if req.EstimatedArrival.After(now.Add(maxTripLength)) {
			errors = append(errors, ValidationError{
				Field:   "estimated_arrival",
				Tag:     "max",
				Message: "Estimated arrival must be within 48 hours",
			})
		}
	}

	if plate := strings.TrimSpace(req.VehiclePlate); plate != "" && !platePattern.MatchString(plate) {
		errors = append(errors, ValidationError{
			Field:   "vehicle_plate",
			Tag:     "plate",
			Message: "Plate may only contain letters, digits, spaces and dashes",
		})
	}

	seen := make(map[string]bool, len(req.WatcherIDs))
	for i, id := range req.WatcherIDs {
		key := strings.ToLower(strings.TrimSpace(id))
		if seen[key] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("watcher_ids[%d]", i),
				Tag:     "unique",
				Message: "Watcher listed more than once",
			})
		}
		seen[key] = true
	}

	if len(errors) == 0 {
		return nil
	}
	return errors
}
