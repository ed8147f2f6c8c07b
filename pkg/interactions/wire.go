package interactions

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// flexInt accepts a JSON number, a numeric string or null. The backend is not
// consistent about which one it sends for ids.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = flexInt{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*f = flexInt{Value: n, Valid: true}
		return nil
	}

	// exponent forms like 1e3; fractions and out of range values are not ids
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil || n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		*f = flexInt{}
		return nil
	}
	*f = flexInt{Value: int64(n), Valid: true}
	return nil
}

// positive returns the first valid, positive candidate.
func positive(candidates ...flexInt) int64 {
	for _, c := range candidates {
		if c.Valid && c.Value > 0 {
			return c.Value
		}
	}
	return 0
}

const (
	MaxSnippetLength = 4000
	maxNameLength    = 100
)

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func firstBool(candidates ...*bool) bool {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return false
}

type rawActor struct {
	Id          flexInt `json:"id"`
	Nombre      string  `json:"nombre"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Apodo       string  `json:"apodo"`
	Handle      string  `json:"handle"`
	Username    string  `json:"username"`
	Avatar      string  `json:"avatar"`
	AvatarURL   string  `json:"avatar_url"`
	Foto        string  `json:"foto_perfil"`
}

type rawPost struct {
	Id       flexInt   `json:"id"`
	Content  string    `json:"content"`
	Snippet  string    `json:"snippet"`
	Image    string    `json:"image"`
	ImageURL string    `json:"image_url"`
	Author   *rawActor `json:"author"`
}

// RawNotification is one notification row exactly as the backend sends it,
// from either the snapshot endpoint or the push channel. All alias probing
// happens here, once, so nothing past this boundary sees backend field names.
type RawNotification struct {
	Id                  flexInt `json:"id"`
	NotificationId      flexInt `json:"notification_id"`
	NotificationIdCamel flexInt `json:"notificationId"`

	Type   string `json:"type"`
	Action string `json:"action"`
	Tipo   string `json:"tipo"`

	Post             *rawPost `json:"post"`
	PostId           flexInt  `json:"post_id"`
	PostIdCamel      flexInt  `json:"postId"`
	PostSnippet      string   `json:"post_snippet"`
	PostContent      string   `json:"post_content"`
	PostImage        string   `json:"post_image"`
	PostImageURL     string   `json:"post_image_url"`
	PostAuthorName   string   `json:"post_author_name"`
	PostAuthorHandle string   `json:"post_author_handle"`

	Actor            *rawActor `json:"actor"`
	ActorId          flexInt   `json:"actor_id"`
	ActorNombre      string    `json:"actor_nombre"`
	ActorName        string    `json:"actor_name"`
	ActorDisplayName string    `json:"actor_display_name"`
	ActorApodo       string    `json:"actor_apodo"`
	ActorHandle      string    `json:"actor_handle"`
	ActorUsername    string    `json:"actor_username"`
	ActorAvatar      string    `json:"actor_avatar"`
	ActorAvatarURL   string    `json:"actor_avatar_url"`
	ActorFoto        string    `json:"actor_foto_perfil"`

	CreatedAt      string `json:"created_at"`
	CreatedAtCamel string `json:"createdAt"`

	Read   *bool `json:"read"`
	IsRead *bool `json:"is_read"`
	Leida  *bool `json:"leida"`
}

// Record is the normalized form of a RawNotification.
type Record struct {
	NotificationId int64 `validate:"gte=0"`
	Action         string
	PostId         int64 `validate:"gte=0"`
	Actor          *Actor

	// Display only. Long values are cut, never rejected.
	PostSnippet      string
	PostImage        string
	PostAuthorName   string
	PostAuthorHandle string

	CreatedAt time.Time
	Read      bool
}

// Record normalizes the raw row. An actor without an id cannot be keyed and
// is dropped.
func (r *RawNotification) Record() Record {
	rec := Record{
		NotificationId:   positive(r.NotificationId, r.NotificationIdCamel, r.Id),
		Action:           firstNonEmpty(r.Action, r.Type, r.Tipo),
		PostSnippet:      firstNonEmpty(r.PostSnippet, r.PostContent),
		PostImage:        firstNonEmpty(r.PostImage, r.PostImageURL),
		PostAuthorName:   r.PostAuthorName,
		PostAuthorHandle: r.PostAuthorHandle,
		CreatedAt:        parseTimestamp(firstNonEmpty(r.CreatedAt, r.CreatedAtCamel)),
		Read:             firstBool(r.Read, r.IsRead, r.Leida),
	}

	if r.Post != nil {
		rec.PostId = positive(r.Post.Id, r.PostId, r.PostIdCamel)
		rec.PostSnippet = firstNonEmpty(r.Post.Content, r.Post.Snippet, rec.PostSnippet)
		rec.PostImage = firstNonEmpty(r.Post.Image, r.Post.ImageURL, rec.PostImage)
		if r.Post.Author != nil {
			rec.PostAuthorName = firstNonEmpty(r.Post.Author.DisplayName, r.Post.Author.Name, r.Post.Author.Nombre, rec.PostAuthorName)
			rec.PostAuthorHandle = firstNonEmpty(r.Post.Author.Handle, r.Post.Author.Username, r.Post.Author.Apodo, rec.PostAuthorHandle)
		}
	} else {
		rec.PostId = positive(r.PostId, r.PostIdCamel)
	}

	rec.PostSnippet = truncate(rec.PostSnippet, MaxSnippetLength)
	rec.PostAuthorName = truncate(rec.PostAuthorName, maxNameLength)
	rec.PostAuthorHandle = truncate(rec.PostAuthorHandle, maxNameLength)

	if r.Actor != nil && positive(r.Actor.Id) != 0 {
		rec.Actor = &Actor{
			Id:          r.Actor.Id.Value,
			DisplayName: firstNonEmpty(r.Actor.DisplayName, r.Actor.Name, r.Actor.Nombre),
			Handle:      firstNonEmpty(r.Actor.Handle, r.Actor.Username, r.Actor.Apodo),
			AvatarURL:   firstNonEmpty(r.Actor.AvatarURL, r.Actor.Avatar, r.Actor.Foto),
		}
	} else if id := positive(r.ActorId); id != 0 {
		rec.Actor = &Actor{
			Id:          id,
			DisplayName: firstNonEmpty(r.ActorDisplayName, r.ActorName, r.ActorNombre),
			Handle:      firstNonEmpty(r.ActorHandle, r.ActorUsername, r.ActorApodo),
			AvatarURL:   firstNonEmpty(r.ActorAvatarURL, r.ActorAvatar, r.ActorFoto),
		}
	}

	return rec
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time when s is empty or unparseable.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
