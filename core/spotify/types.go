package spotify

// TrackItem Spotify API 返回的曲目对象
type TrackItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
}

// CurrentlyPlaying 当前播放状态
// Item 为空指针表示没有任何内容在播
type CurrentlyPlaying struct {
	IsPlaying  bool       `json:"is_playing"`
	ProgressMs int64      `json:"progress_ms"`
	Timestamp  int64      `json:"timestamp"`
	Item       *TrackItem `json:"item"`
}

// ArtistNames 拼接艺术家名
func (t *TrackItem) ArtistNames() string {
	if t == nil || len(t.Artists) == 0 {
		return ""
	}
	names := t.Artists[0].Name
	for _, a := range t.Artists[1:] {
		names += ", " + a.Name
	}
	return names
}

// ArtworkURL 取第一张专辑封面
func (t *TrackItem) ArtworkURL() string {
	if t == nil || len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}

// tokenResponse accounts 服务的令牌响应
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// apiError Spotify API 的错误包
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}
