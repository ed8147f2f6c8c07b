package v0_rest

type InteractionReq struct {
	Action string `json:"action" validate:"required,oneof=like unlike repost unrepost comment delete_comment follow unfollow"`
	PostId int64  `json:"post_id" validate:"gte=0"`

	PostSnippet      string `json:"post_snippet" validate:"max=4000"`
	PostImage        string `json:"post_image" validate:"omitempty,url"`
	PostAuthorName   string `json:"post_author_name" validate:"max=100"`
	PostAuthorHandle string `json:"post_author_handle" validate:"max=100"`
}

type SendMessageReq struct {
	Content string `json:"content" validate:"max=4000"`
}

type DraftReq struct {
	Content string `json:"content" validate:"max=4000"`
}
