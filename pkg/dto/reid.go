package dto

type PersonResponse struct {
	PersonID          string   `json:"person_id"`
	FirstSeen         string   `json:"first_seen"`
	LastSeen          string   `json:"last_seen"`
	AppearanceCount   int      `json:"appearance_count"`
	TrackIDs          []int64  `json:"track_ids"`
	CountedDirections []string `json:"counted_directions"`
}

type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
}

type SimilarPerson struct {
	PersonID string  `json:"person_id"`
	Score    float32 `json:"score"`
}

type SimilarPersonsResponse struct {
	Persons []SimilarPerson `json:"persons"`
	Total   int             `json:"total"`
}

type ReIDCleanupResponse struct {
	Removed int `json:"removed"`
}
