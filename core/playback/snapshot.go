package playback

// Snapshot 播放快照：某一时刻"正在播什么、播到哪里"的不可变记录
// TrackID 为空表示没有任何曲目在播，此时其余曲目字段也为空且 IsPlaying=false
type Snapshot struct {
	TrackID      string `json:"trackId,omitempty"`
	TrackTitle   string `json:"trackTitle,omitempty"`
	Artist       string `json:"artist,omitempty"`
	AlbumTitle   string `json:"albumTitle,omitempty"`
	ArtworkURL   string `json:"artworkUrl,omitempty"`
	IsPlaying    bool   `json:"isPlaying"`
	PositionMs   int64  `json:"positionMs"`
	DurationMs   int64  `json:"durationMs"`
	CapturedAtMs int64  `json:"capturedAtMs"`
}

// HasTrack 是否有曲目在播
func (s Snapshot) HasTrack() bool {
	return s.TrackID != ""
}

// SameProgram 曲目与播放/暂停状态是否一致，轮询端用它判断本次 tick 是否值得记日志
func (s Snapshot) SameProgram(other Snapshot) bool {
	return s.TrackID == other.TrackID && s.IsPlaying == other.IsPlaying
}

// Estimate 估算 nowMs 时刻主端的真实播放位置
// 暂停的快照不前进；播放中的快照按快照采集以来经过的时间外推并夹取到曲目时长
func Estimate(s Snapshot, nowMs int64) int64 {
	if !s.IsPlaying {
		return s.PositionMs
	}
	pos := s.PositionMs + (nowMs - s.CapturedAtMs)
	return clampMs(pos, s.DurationMs)
}

// Refreshed 返回以 nowMs 重新盖章的快照副本
// 位置先按估算推进，避免把陈旧的 capturedAtMs 再转发出去造成估算误差叠加
func (s Snapshot) Refreshed(nowMs int64) Snapshot {
	out := s
	out.PositionMs = Estimate(s, nowMs)
	out.CapturedAtMs = nowMs
	return out
}

// clampMs 将位置夹取到 [0, durationMs]；durationMs 不可信（<=0）时只保证非负
func clampMs(pos, durationMs int64) int64 {
	if pos < 0 {
		return 0
	}
	if durationMs > 0 && pos > durationMs {
		return durationMs
	}
	return pos
}
