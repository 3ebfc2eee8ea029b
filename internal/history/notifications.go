package history

// NotificationType enumerates the broadcasts of a history backend.
type NotificationType int

const (
	URLsDeleted NotificationType = iota
	TypedURLsModified
	URLVisited
	FavIconChanged
)

func (t NotificationType) String() string {
	switch t {
	case URLsDeleted:
		return "urls_deleted"
	case TypedURLsModified:
		return "typed_urls_modified"
	case URLVisited:
		return "url_visited"
	case FavIconChanged:
		return "favicon_changed"
	}
	return "unknown"
}

// Notification is a single broadcast. Details is one of the *Details types
// below, matching Type.
type Notification struct {
	Type    NotificationType
	Details interface{}
}

// URLsDeletedDetails accompany URLsDeleted. AllHistory is set by a full wipe,
// in which case URLs is empty.
type URLsDeletedDetails struct {
	AllHistory bool
	URLs       []string
}

// URLsModifiedDetails accompany TypedURLsModified.
type URLsModifiedDetails struct {
	ChangedURLs []URLRow
}

// URLVisitedDetails accompany URLVisited.
type URLVisitedDetails struct {
	Transition PageTransition
	Row        URLRow
}

// FavIconChangeDetails accompany FavIconChanged.
type FavIconChangeDetails struct {
	URLs []string
}
