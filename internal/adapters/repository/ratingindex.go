package repository

import (
	"github.com/valyala/fastrand"
)

// ratingIndex is a treap ordered by rating DESC, then user id ASC, so that
// band queries can skip subtrees that fall outside the band.
type ratingIndex struct {
	root *node
}

type node struct {
	id     string
	rating int
	prio   uint32
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aRating, aID) ranks before (bRating, bID).
func less(aRating int, aID string, bRating int, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, rating int) *node {
	if n == nil {
		return &node{id: id, rating: rating, prio: fastrand.Uint32(), size: 1}
	}
	if less(rating, id, n.rating, n.id) {
		n.left = insert(n.left, id, rating)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, rating)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, rating int) *node {
	if n == nil {
		return nil
	}
	switch {
	case rating == n.rating && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, rating)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, rating)
		}
	case less(rating, id, n.rating, n.id):
		n.left = deleteNode(n.left, id, rating)
	default:
		n.right = deleteNode(n.right, id, rating)
	}
	fix(n)
	return n
}

// set moves id from oldRating to rating. hadOld is false for new users.
func (ix *ratingIndex) set(id string, oldRating int, hadOld bool, rating int) {
	if hadOld {
		if oldRating == rating {
			return
		}
		ix.root = deleteNode(ix.root, id, oldRating)
	}
	ix.root = insert(ix.root, id, rating)
}

func (ix *ratingIndex) len() int { return nsize(ix.root) }

// band appends ids with minRating <= rating <= maxRating in rank order, up to
// limit (limit <= 0 means no limit).
func (ix *ratingIndex) band(minRating, maxRating int, exclude string, limit int) []string {
	var out []string
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil || (limit > 0 && len(out) >= limit) {
			return
		}
		// Left holds higher ratings; only useful while this node is not
		// already above the band.
		if n.rating <= maxRating {
			walk(n.left)
		} else {
			// Everything on the left is even higher.
			walk(n.right)
			return
		}
		if limit > 0 && len(out) >= limit {
			return
		}
		if n.rating >= minRating && n.id != exclude {
			out = append(out, n.id)
		}
		if n.rating >= minRating {
			walk(n.right)
		}
	}
	walk(ix.root)
	return out
}
