package query

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultEpochs = 15
	// MaxEpochs bounds the epoch window a client can request.
	MaxEpochs = 1000
)

// ErrInvalidConfig is wrapped by every validation failure of a query configuration.
var ErrInvalidConfig = errors.New("invalid query configuration")

// OrderField selects the key validators are sorted by.
type OrderField string

const (
	OrderStake      OrderField = "stake"
	OrderCredits    OrderField = "credits"
	OrderScore      OrderField = "score"
	OrderApy        OrderField = "apy"
	OrderCommission OrderField = "commission"
	OrderUptime     OrderField = "uptime"
)

func ParseOrderField(s string) (OrderField, error) {
	switch f := OrderField(s); f {
	case OrderStake, OrderCredits, OrderScore, OrderApy, OrderCommission, OrderUptime:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown order field %q", ErrInvalidConfig, s)
	}
}

type OrderDirection string

const (
	Asc  OrderDirection = "asc"
	Desc OrderDirection = "desc"
)

func ParseOrderDirection(s string) (OrderDirection, error) {
	switch d := OrderDirection(s); d {
	case Asc, Desc:
		return d, nil
	default:
		return "", fmt.Errorf("%w: order direction must be 'asc' or 'desc', got %q", ErrInvalidConfig, s)
	}
}

// ValidatorsConfig drives ListValidators. Nil boolean filters are not applied.
type ValidatorsConfig struct {
	// Query is matched case-insensitively against identity, vote account and published name.
	Query        string
	VoteAccounts []string
	Identities   []string

	Superminority   *bool
	MarinadeStake   *bool
	WithNames       *bool
	PositiveScore   *bool
	FoundationStake *bool

	OrderField     OrderField
	OrderDirection OrderDirection
	Offset         int
	Limit          int

	// Epochs is the size of the epoch_stats window. Ignored when Since is set.
	Epochs uint64
	// Since keeps only epoch_stats that started strictly after it.
	Since *time.Time
}

func DefaultValidatorsConfig() ValidatorsConfig {
	return ValidatorsConfig{
		OrderField:     OrderStake,
		OrderDirection: Desc,
		Limit:          DefaultLimit,
		Epochs:         DefaultEpochs,
	}
}

// Validate checks cfg and fills unset fields with defaults.
func (c *ValidatorsConfig) Validate() error {
	if c.OrderField == "" {
		c.OrderField = OrderStake
	} else if _, err := ParseOrderField(string(c.OrderField)); err != nil {
		return err
	}
	if c.OrderDirection == "" {
		c.OrderDirection = Desc
	} else if _, err := ParseOrderDirection(string(c.OrderDirection)); err != nil {
		return err
	}
	if c.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidConfig)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidConfig)
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Epochs == 0 {
		c.Epochs = DefaultEpochs
	}
	if c.Epochs > MaxEpochs {
		return fmt.Errorf("%w: epochs must be at most %d", ErrInvalidConfig, MaxEpochs)
	}
	return nil
}

// ScoresConfig drives Scores. An empty allow-list returns every score of the latest run.
type ScoresConfig struct {
	VoteAccounts []string
}
