package interactions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var actionAliases = map[string]Action{
	"liked":      ActionLike,
	"me_gusta":   ActionLike,
	"retweet":    ActionRepost,
	"reblog":     ActionRepost,
	"reposted":   ActionRepost,
	"reply":      ActionComment,
	"commented":  ActionComment,
	"comentario": ActionComment,
	"followed":   ActionFollow,
	"seguir":     ActionFollow,
}

// NormalizeAction lower-cases the action and resolves known aliases. Unknown
// actions pass through unchanged so the engine can decide what to do with them.
func NormalizeAction(s string) Action {
	s = strings.ToLower(strings.TrimSpace(s))
	if a, ok := actionAliases[s]; ok {
		return a
	}
	return Action(s)
}

// Map translates one normalized record into an Interaction. It has no side
// effects and never invents a timestamp: a record without one maps to the zero
// time and the caller stamps it.
//
// A record is rejected when it neither references a post nor resolves to a
// known action.
func Map(rec Record) (Interaction, error) {
	action := NormalizeAction(rec.Action)
	if rec.PostId <= 0 && !action.Known() {
		return Interaction{}, ErrRejected
	}

	i := Interaction{
		PostId:           rec.PostId,
		Action:           action,
		PostSnippet:      rec.PostSnippet,
		PostImage:        rec.PostImage,
		PostAuthorName:   rec.PostAuthorName,
		PostAuthorHandle: rec.PostAuthorHandle,
		Timestamp:        rec.CreatedAt,
		NotificationId:   rec.NotificationId,
		Read:             rec.Read,
	}
	if rec.Actor != nil {
		actor := *rec.Actor
		i.Actor = &actor
	}
	return i, nil
}

// Decode unmarshals, validates and maps one raw notification payload.
func Decode(data []byte) (Interaction, error) {
	var raw RawNotification
	if err := json.Unmarshal(data, &raw); err != nil {
		return Interaction{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	rec := raw.Record()
	if err := validate.Struct(rec); err != nil {
		return Interaction{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return Map(rec)
}
