package track

import "github.com/cockroachdb/errors"

// RatingType selects how a track rating is interpreted.
// Values match the host's rating constants.
type RatingType int

const (
	RatingNone RatingType = iota
	RatingHeart
	RatingThumbsUpDown
	Rating3Stars
	Rating4Stars
	Rating5Stars
	RatingPercentage
)

// String returns the string representation of the rating type.
func (r RatingType) String() string {
	switch r {
	case RatingNone:
		return "none"
	case RatingHeart:
		return "heart"
	case RatingThumbsUpDown:
		return "thumbs_up_down"
	case Rating3Stars:
		return "3_stars"
	case Rating4Stars:
		return "4_stars"
	case Rating5Stars:
		return "5_stars"
	case RatingPercentage:
		return "percentage"
	default:
		return "unknown"
	}
}

// ParseRatingType converts the host's numeric constant.
func ParseRatingType(v int) (RatingType, error) {
	if v < int(RatingNone) || v > int(RatingPercentage) {
		return RatingNone, errors.Newf("unknown rating type %d", v)
	}
	return RatingType(v), nil
}

// Rating is a track rating of a given type.
// Heart and thumbs ratings store 1 or 0 in Value.
type Rating struct {
	Type  RatingType
	Rated bool
	Value float64
}

// NewRating reads a raw payload value according to the rating type.
// A missing or mistyped value yields an unrated Rating.
func NewRating(raw any, ratingType RatingType) Rating {
	r := Rating{Type: ratingType}
	if raw == nil || ratingType == RatingNone {
		return r
	}

	switch ratingType {
	case RatingHeart, RatingThumbsUpDown:
		b, ok := raw.(bool)
		if !ok {
			return r
		}
		r.Rated = true
		if b {
			r.Value = 1
		}
	default:
		f, ok := toFloat(raw)
		if !ok {
			return r
		}
		r.Rated = true
		r.Value = f
	}
	return r
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Raw returns the value in the shape the host sent it.
func (r Rating) Raw() any {
	if !r.Rated {
		return nil
	}
	switch r.Type {
	case RatingHeart, RatingThumbsUpDown:
		return r.Value != 0
	default:
		return r.Value
	}
}
