package storage

import (
	"bytes"
	"fmt"
	"sort"

	"nexus/internal/models"

	"go.etcd.io/bbolt"
)

// AddFriendship records a mutual friendship. It is idempotent.
func (s *BboltStorage) AddFriendship(a, b string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		friends := tx.Bucket(bucketFriends)
		if err := friends.Put(pairKey(a, b), []byte{1}); err != nil {
			return err
		}
		return friends.Put(pairKey(b, a), []byte{1})
	})
}

func (s *BboltStorage) AreFriends(a, b string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketFriends).Get(pairKey(a, b)) != nil
		return nil
	})
	return ok, err
}

func (s *BboltStorage) ListFriends(userID string) ([]models.User, error) {
	friends := []models.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		prefix := pairPrefix(userID)
		c := tx.Bucket(bucketFriends).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var dbUser DBUser
			if err := get(users, k[len(prefix):], &dbUser); err != nil {
				continue
			}
			friends = append(friends, dbUser.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(friends, func(i, j int) bool { return friends[i].Username < friends[j].Username })
	return friends, nil
}

// CreateFriendRequest stores a pending request from one user to another.
func (s *BboltStorage) CreateFriendRequest(fromID, toID string) (models.FriendRequest, error) {
	if fromID == toID {
		return models.FriendRequest{}, fmt.Errorf("request to self: %w", models.ErrInvalidInput)
	}

	dbRequest := DBFriendRequest{
		ID:        shortID(10),
		FromID:    fromID,
		ToID:      toID,
		CreatedAt: s.now().Unix(),
	}

	var sender DBUser
	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		if err := get(users, []byte(fromID), &sender); err != nil {
			return fmt.Errorf("user %s: %w", fromID, err)
		}
		if users.Get([]byte(toID)) == nil {
			return fmt.Errorf("user %s: %w", toID, models.ErrNotFound)
		}

		pairs := tx.Bucket(bucketRequestPairs)
		if pairs.Get(pairKey(fromID, toID)) != nil {
			return fmt.Errorf("friend request: %w", models.ErrAlreadyExists)
		}
		if err := pairs.Put(pairKey(fromID, toID), []byte(dbRequest.ID)); err != nil {
			return err
		}
		return put(tx.Bucket(bucketFriendRequests), &dbRequest)
	})
	if err != nil {
		return models.FriendRequest{}, err
	}

	return dbRequest.toModel(&sender), nil
}

func (s *BboltStorage) HasFriendRequest(fromID, toID string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketRequestPairs).Get(pairKey(fromID, toID)) != nil
		return nil
	})
	return ok, err
}

func (s *BboltStorage) GetFriendRequest(id string) (models.FriendRequest, error) {
	var req models.FriendRequest
	err := s.db.View(func(tx *bbolt.Tx) error {
		var dbRequest DBFriendRequest
		if err := get(tx.Bucket(bucketFriendRequests), []byte(id), &dbRequest); err != nil {
			return err
		}
		var sender DBUser
		_ = get(tx.Bucket(bucketUsers), []byte(dbRequest.FromID), &sender)
		req = dbRequest.toModel(&sender)
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("friend request %s: %w", id, err)
	}
	return req, nil
}

// DeleteFriendRequest removes a request. Deleting a missing request is not an error.
func (s *BboltStorage) DeleteFriendRequest(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		requests := tx.Bucket(bucketFriendRequests)
		var dbRequest DBFriendRequest
		if err := get(requests, []byte(id), &dbRequest); err != nil {
			return nil
		}
		if err := tx.Bucket(bucketRequestPairs).Delete(pairKey(dbRequest.FromID, dbRequest.ToID)); err != nil {
			return err
		}
		return requests.Delete([]byte(id))
	})
}

// ListRequests returns the pending requests addressed to userID, oldest first.
func (s *BboltStorage) ListRequests(userID string) ([]models.FriendRequest, error) {
	requests := []models.FriendRequest{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		return tx.Bucket(bucketFriendRequests).ForEach(func(k, v []byte) error {
			var dbRequest DBFriendRequest
			if err := dbRequest.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbRequest.ToID != userID {
				return nil
			}
			var sender DBUser
			_ = get(users, []byte(dbRequest.FromID), &sender)
			requests = append(requests, dbRequest.toModel(&sender))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt < requests[j].CreatedAt })
	return requests, nil
}

func (r *DBFriendRequest) toModel(sender *DBUser) models.FriendRequest {
	return models.FriendRequest{
		ID:        r.ID,
		FromID:    r.FromID,
		ToID:      r.ToID,
		CreatedAt: r.CreatedAt,
		Username:  sender.Username,
		Avatar:    sender.Avatar,
		Color:     sender.Color,
	}
}
