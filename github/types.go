package github

import "time"

// Repository is a single repository as returned by the user repos listing.
// Nullable upstream fields (description, language) decode to empty strings.
type Repository struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	FullName         string    `json:"full_name"`
	Description      string    `json:"description"`
	HTMLURL          string    `json:"html_url"`
	Language         string    `json:"language"`
	StargazersCount  int       `json:"stargazers_count"`
	ForksCount       int       `json:"forks_count"`
	SubscribersCount int       `json:"subscribers_count"`
	Fork             bool      `json:"fork"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Release is a published release for a repository.
type Release struct {
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt *time.Time `json:"published_at"`
	Body        string     `json:"body"`
	HTMLURL     string     `json:"html_url"`
	Assets      []Asset    `json:"assets"`
}

// Asset is a downloadable artifact attached to a release.
type Asset struct {
	BrowserDownloadURL string `json:"browser_download_url"`
	DownloadCount      int    `json:"download_count"`
}

// TotalDownloads sums the download counts of all assets.
func (r Release) TotalDownloads() int {
	total := 0
	for _, a := range r.Assets {
		total += a.DownloadCount
	}
	return total
}

// Tag is a lightweight ref listing entry.
type Tag struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// ContentEntry is a single entry from a repository's root directory listing.
type ContentEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "dir"
	SHA  string `json:"sha,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// subscriber is used only for its count; the login is kept for debugging.
type subscriber struct {
	Login string `json:"login"`
}
