package feed

import "socialsphere/internal/models"

// staleSnapshotLimit is how many disagreeing snapshots a settled view waits
// for before it yields to the store's value.
const staleSnapshotLimit = 2

type likeKey struct {
	postID string
	userID string
}

// likeView is one user's optimistic projection of one post.
type likeView struct {
	liked   bool
	display int
	pending int

	// settled views wait for the snapshot that reflects their writes.
	settled bool
	stale   int
}

// LikeLedger tracks optimistic like toggles until the store confirms them.
// It is not safe for concurrent use; the feed actor owns it.
type LikeLedger struct {
	views map[likeKey]*likeView
}

func NewLikeLedger() *LikeLedger {
	return &LikeLedger{views: make(map[likeKey]*likeView)}
}

// Begin flips the user's liked flag on post and moves the display counter by
// one. It returns the direction of the remote mutation to issue: true to
// like, false to unlike.
func (l *LikeLedger) Begin(post *models.Post, userID string, currentlyLiked bool) bool {
	key := likeKey{post.ID, userID}
	v, ok := l.views[key]
	if !ok {
		v = &likeView{display: post.LikesCount}
		l.views[key] = v
	}

	like := !currentlyLiked
	v.liked = like
	v.display = clampCount(v.display + delta(like))
	v.pending++
	v.settled = false
	v.stale = 0
	return like
}

// Settle records the outcome of a mutation issued by Begin. A failed write
// is rolled back locally. Once nothing is pending the view yields to latest,
// the post from the newest snapshot, if it agrees, and otherwise waits for a
// snapshot that does.
func (l *LikeLedger) Settle(postID, userID string, like bool, err error, latest *models.Post) {
	key := likeKey{postID, userID}
	v, ok := l.views[key]
	if !ok {
		return
	}

	if v.pending > 0 {
		v.pending--
	}

	if err != nil {
		v.display = clampCount(v.display - delta(like))
		if v.liked == like {
			v.liked = !like
		}
		if v.pending == 0 {
			// The failed write changed nothing remotely, so the last
			// snapshot is already authoritative.
			delete(l.views, key)
		}
		return
	}

	if v.pending > 0 {
		return
	}
	if latest != nil && latest.LikedBy(userID) == v.liked {
		delete(l.views, key)
		return
	}
	v.settled = true
}

// Observe reconciles settled views against a new snapshot of the window.
func (l *LikeLedger) Observe(posts []*models.Post) {
	byID := make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	for key, v := range l.views {
		if !v.settled {
			continue
		}
		post, ok := byID[key.postID]
		if !ok || post.LikedBy(key.userID) == v.liked {
			delete(l.views, key)
			continue
		}
		v.stale++
		if v.stale >= staleSnapshotLimit {
			delete(l.views, key)
		}
	}
}

// Entry renders post for userID, preferring the optimistic view when one
// exists.
func (l *LikeLedger) Entry(post *models.Post, userID string) models.FeedEntry {
	if v, ok := l.views[likeKey{post.ID, userID}]; ok {
		return models.FeedEntry{Post: post, Liked: v.liked, DisplayLikes: v.display, Pending: v.pending > 0}
	}
	return models.FeedEntry{Post: post, Liked: post.LikedBy(userID), DisplayLikes: post.LikesCount}
}

// Pending reports the number of mutations still in flight.
func (l *LikeLedger) Pending() int {
	n := 0
	for _, v := range l.views {
		n += v.pending
	}
	return n
}

func delta(like bool) int {
	if like {
		return 1
	}
	return -1
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
