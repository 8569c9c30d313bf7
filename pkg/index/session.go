package index

import "github.com/google/uuid"

// UploadSession ties the pages of one bulk delivery together. The target
// assembles pages sharing a token into one logical upload; a complete upload
// (first and last page seen) lets the target expire records absent from it
// unless stale-deletion is suppressed.
//
// A session belongs to exactly one in-flight delivery. It is created when the
// delivery starts and discarded when the last page is acknowledged or the
// delivery fails.
type UploadSession struct {
	token                 string
	pageIndex             int
	suppressStaleDeletion bool
}

// PageMeta is the session envelope carried by a single page.
type PageMeta struct {
	Token                 string
	Index                 int
	First                 bool
	Last                  bool
	SuppressStaleDeletion bool
}

func NewUploadSession(suppressStaleDeletion bool) *UploadSession {
	return &UploadSession{
		token:                 uuid.NewString(),
		suppressStaleDeletion: suppressStaleDeletion,
	}
}

func (s *UploadSession) Token() string {
	return s.token
}

// Advance returns the envelope for the next page and increments the page
// counter. last must be set on the final page only.
func (s *UploadSession) Advance(last bool) PageMeta {
	meta := PageMeta{
		Token:                 s.token,
		Index:                 s.pageIndex,
		First:                 s.pageIndex == 0,
		Last:                  last,
		SuppressStaleDeletion: s.suppressStaleDeletion,
	}

	s.pageIndex++

	return meta
}
