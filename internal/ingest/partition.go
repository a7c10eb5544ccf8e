package ingest

// Partition splits a batch into root posts and replies. A row is a reply when
// it names a reply target id or a reply target user; naming only the user is
// enough to keep it out of the root set.
func Partition(rows []Row) (posts, replies []Row) {
	for _, row := range rows {
		if row.Post.IsReply() {
			replies = append(replies, row)
		} else {
			posts = append(posts, row)
		}
	}
	return posts, replies
}
