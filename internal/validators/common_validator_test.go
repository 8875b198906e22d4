package validators

import (
	"testing"

	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValidateStartSessionRequest(t *testing.T) {
	valid := models.StartSessionRequest{
		DestinationName: "Downtown Mall",
		WatcherIDs:      []string{primitive.NewObjectID().Hex()},
		Companions:      []models.Companion{{Name: "Sam", Phone: "+15551234567"}},
	}
	assert.Nil(t, ValidateStruct(&valid))

	invalid := valid
	invalid.WatcherIDs = []string{"not-an-id"}
	invalid.Companions = []models.Companion{{Name: "Sam", Phone: "555"}}

	errs := ValidateStruct(&invalid)
	require.Len(t, errs, 2)
	details := errs.Details()
	assert.Contains(t, details, "watcher_ids[0]")
	assert.Contains(t, details, "phone")
}

func TestValidateCreateAlertRequest(t *testing.T) {
	assert.Nil(t, ValidateStruct(&models.CreateAlertRequest{AlertType: models.AlertTypeFire, Latitude: 10, Longitude: 20}))

	errs := ValidateStruct(&models.CreateAlertRequest{AlertType: "tornado", Latitude: 95})
	require.Len(t, errs, 2)
	assert.Equal(t, "alert_type", errs[0].Tag)
	assert.Equal(t, "latitude", errs[1].Tag)
}

func TestValidateSendAlertRequest(t *testing.T) {
	assert.Nil(t, ValidateStruct(&models.SendAlertRequest{}))
	assert.Nil(t, ValidateStruct(&models.SendAlertRequest{Audience: models.AudienceContacts}))
	assert.NotNil(t, ValidateStruct(&models.SendAlertRequest{Audience: "everyone"}))
}

func TestParseObjectIDs(t *testing.T) {
	id := primitive.NewObjectID()
	ids, err := ParseObjectIDs([]string{id.Hex()})
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{id}, ids)

	_, err = ParseObjectIDs([]string{"zzz"})
	assert.Error(t, err)
}
