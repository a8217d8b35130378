package models

import "time"

// CatalogEntry is the locally mirrored metadata of a catalog movie.
type CatalogEntry struct {
	MovieID          int64      `json:"movie_id" db:"tmdb_id"`
	Title            string     `json:"title" db:"title"`
	Overview         string     `json:"overview" db:"overview"`
	ReleaseDate      *time.Time `json:"release_date,omitempty" db:"release_date"`
	VoteAverage      float64    `json:"vote_average" db:"vote_average"`
	VoteCount        int        `json:"vote_count" db:"vote_count"`
	Popularity       float64    `json:"popularity" db:"popularity"`
	Genres           []string   `json:"genres" db:"genres"`
	OriginalLanguage string     `json:"original_language" db:"original_language"`
}

// ReleaseYear returns the release year, or 0 when the release date is unknown.
func (m *CatalogEntry) ReleaseYear() int {
	if m.ReleaseDate == nil {
		return 0
	}
	return m.ReleaseDate.Year()
}

// PopularFilter narrows the popularity listing.
type PopularFilter struct {
	MinVoteAverage float64
	MaxVoteAverage *float64
	// Genres must all be present on a movie.
	Genres         []string
	MinYear        *int
	MaxYear        *int
	Limit          int
}
