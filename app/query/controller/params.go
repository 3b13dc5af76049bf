package controller

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/canopy-network/validatorx/pkg/analytics"
	"github.com/canopy-network/validatorx/pkg/query"
	"github.com/canopy-network/validatorx/pkg/utils"
)

// maxLimit caps the page size a client can ask for.
const maxLimit = 5000

func parseValidatorsConfig(r *http.Request) (query.ValidatorsConfig, error) {
	qs := r.URL.Query()
	cfg := query.DefaultValidatorsConfig()

	cfg.Query = qs.Get("query")
	cfg.VoteAccounts = utils.SplitList(qs.Get("vote_accounts"))
	cfg.Identities = utils.SplitList(qs.Get("identities"))

	var err error
	if cfg.Superminority, err = parseOptionalBool(qs, "superminority"); err != nil {
		return cfg, err
	}
	if cfg.MarinadeStake, err = parseOptionalBool(qs, "marinade_stake"); err != nil {
		return cfg, err
	}
	if cfg.WithNames, err = parseOptionalBool(qs, "with_names"); err != nil {
		return cfg, err
	}
	if cfg.PositiveScore, err = parseOptionalBool(qs, "positive_score"); err != nil {
		return cfg, err
	}
	if cfg.FoundationStake, err = parseOptionalBool(qs, "foundation_stake"); err != nil {
		return cfg, err
	}

	if v := qs.Get("order_field"); v != "" {
		if cfg.OrderField, err = query.ParseOrderField(v); err != nil {
			return cfg, errInvalidOrderField
		}
	}
	if v := qs.Get("order_direction"); v != "" {
		if cfg.OrderDirection, err = query.ParseOrderDirection(v); err != nil {
			return cfg, errInvalidSort
		}
	}

	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, errInvalidOffset
		}
		cfg.Offset = n
	}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, errInvalidLimit
		}
		cfg.Limit = min(n, maxLimit)
	}

	if cfg.Epochs, err = parseEpochs(qs); err != nil {
		return cfg, err
	}
	if cfg.Since, err = parseTime(qs, "since"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseCommissionChangesConfig(r *http.Request) (analytics.CommissionChangesConfig, error) {
	var cfg analytics.CommissionChangesConfig
	if v := r.URL.Query().Get("since_epoch"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, errInvalidEpoch
		}
		cfg.SinceEpoch = &n
	}
	return cfg, nil
}

func parseScoreBreakdownConfig(r *http.Request) (analytics.ScoreBreakdownConfig, error) {
	qs := r.URL.Query()
	cfg := analytics.ScoreBreakdownConfig{VoteAccount: qs.Get("vote_account")}
	since, err := parseTime(qs, "since")
	if err != nil {
		return cfg, err
	}
	cfg.Since = since
	return cfg, nil
}

// parseEpochs returns the epoch window, or the default when absent.
func parseEpochs(qs url.Values) (uint64, error) {
	v := qs.Get("epochs")
	if v == "" {
		return query.DefaultEpochs, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 || n > query.MaxEpochs {
		return 0, errInvalidEpochs
	}
	return n, nil
}

func parseOptionalBool(qs url.Values, key string) (*bool, error) {
	v := qs.Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, &parseError{msg: "invalid " + key + ", must be true or false"}
	}
	return &b, nil
}

// parseTime accepts RFC 3339 or unix seconds.
func parseTime(qs url.Values, key string) (*time.Time, error) {
	v := qs.Get(key)
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, &parseError{msg: "invalid " + key + ", must be RFC 3339 or unix seconds"}
	}
	return &t, nil
}

var (
	errInvalidLimit      = &parseError{msg: "invalid limit"}
	errInvalidOffset     = &parseError{msg: "invalid offset"}
	errInvalidEpochs     = &parseError{msg: "invalid epochs"}
	errInvalidEpoch      = &parseError{msg: "invalid epoch"}
	errInvalidSort       = &parseError{msg: "invalid order_direction, must be 'asc' or 'desc'"}
	errInvalidOrderField = &parseError{msg: "invalid order_field, must be one of stake, credits, score, apy, commission, uptime"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
