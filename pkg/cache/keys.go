package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
)

// Key is the fast-path store key of compartment c in environment tag.
func Key(tag string, c Compartment) string {
	return tag + "_" + string(c)
}

// LastUpdateKey holds the unix-millisecond time of the last completed leader pass of tag.
func LastUpdateKey(tag string) string {
	return "last_update_timestamp_" + tag
}

// LockName is the distributed lock electing the refresher of tag.
func LockName(tag string) string {
	return "validators_refresh_lock_" + tag
}

// RefreshChannel is the Pub/Sub channel announcing completed refreshes of tag.
func RefreshChannel(tag string) string {
	return "validatorx:" + tag + ":cache.refreshed"
}

// RefreshChannelPattern matches the refresh channel of every tag.
const RefreshChannelPattern = "validatorx:*:cache.refreshed"

// envelope is the fast-path representation of one compartment. UpdatedAt is when the leader swapped
// this data in, so a compartment that failed on a later pass keeps its older time.
type envelope struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// encodeCompartment serializes compartment data produced at updatedAt for the fast-path store.
func encodeCompartment(data any, updatedAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{UpdatedAt: updatedAt.UTC(), Data: raw})
}

// decodeCompartment is the inverse of encodeCompartment. It yields exactly the type the store
// accessors expect for c, plus the time the data was produced.
func decodeCompartment(c Compartment, b []byte) (any, time.Time, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, time.Time{}, err
	}
	if env.UpdatedAt.IsZero() || len(env.Data) == 0 {
		return nil, time.Time{}, errors.New("payload has no update time or data")
	}
	var (
		data any
		err  error
	)
	switch c {
	case Validators:
		data, err = decodeAs[map[string]models.Validator](env.Data)
	case Commissions:
		data, err = decodeAs[map[string][]models.CommissionRecord](env.Data)
	case Uptimes:
		data, err = decodeAs[map[string][]models.UptimeRecord](env.Data)
	case Versions:
		data, err = decodeAs[map[string][]models.VersionRecord](env.Data)
	case ClusterStats:
		data, err = decodeAs[models.ClusterStats](env.Data)
	case Scores:
		data, err = decodeAs[models.RunScores](env.Data)
	case ScoresAll:
		data, err = decodeAs[models.ScoringHistory](env.Data)
	case AggregatedEpochStats:
		data, err = decodeAs[[]models.AggregatedEpochStats](env.Data)
	default:
		err = fmt.Errorf("unknown compartment %q", c)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, env.UpdatedAt, nil
}

func decodeAs[T any](b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
