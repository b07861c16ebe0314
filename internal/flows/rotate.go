package flows

import (
	"context"
	"errors"
	"time"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureParse
	RotateFailureNotFound
	RotateFailureLoad
	RotateFailureAccountDisabled
	RotateFailureExpired
	RotateFailureRevoked
	RotateFailureReplay
	RotateFailureRateLimited
	RotateFailureMint
	RotateFailurePersist
)

// ParsedRefresh is what the signature check yields.
type ParsedRefresh struct {
	JTI      string
	Subject  string
	FamilyID string
}

// StoredToken mirrors the persisted refresh row.
type StoredToken struct {
	ID        string
	UserID    string
	FamilyID  string
	DeviceID  string
	UsedAt    *time.Time
	RevokedAt *time.Time
	ExpiresAt time.Time
}

// TokenOwner is the account a refresh token belongs to.
type TokenOwner struct {
	ID     string
	Email  string
	Role   string
	Active bool
}

// ChildToken is a freshly minted refresh token, not yet persisted.
type ChildToken struct {
	ID        string
	UserID    string
	FamilyID  string
	DeviceID  string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RotateResult carries either the new pair or failure metadata.
type RotateResult struct {
	Failure      RotateFailureKind
	Err          error
	TokenID      string
	UserID       string
	FamilyID     string
	DeviceID     string
	Revoked      int64
	AccessToken  string
	RefreshToken string
	Child        ChildToken
}

// RotateDeps captures rotation dependencies. RotateStored must mark usedID as
// used only if it is still unused and unrevoked, and insert child in the same
// transaction; it reports false when the conditional update matched no row.
type RotateDeps struct {
	Now          func() time.Time
	ParseRefresh func(string) (ParsedRefresh, error)
	LoadToken    func(context.Context, string) (*StoredToken, error)
	LoadOwner    func(context.Context, string) (*TokenOwner, error)
	AllowRefresh func(context.Context, string) error
	MintChild    func(owner TokenOwner, familyID, deviceID string, now time.Time) (ChildToken, error)
	IssueAccess  func(owner TokenOwner) (string, error)
	RotateStored func(ctx context.Context, usedID string, usedAt time.Time, child ChildToken) (bool, error)
	RevokeFamily func(ctx context.Context, familyID string, at time.Time) (int64, error)
	NotFound     error
}

// RunRotate executes one-time-use rotation with replay detection.
func RunRotate(ctx context.Context, oldToken string, deps RotateDeps) RotateResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	parsed, err := deps.ParseRefresh(oldToken)
	if err != nil {
		return RotateResult{Failure: RotateFailureParse, Err: err}
	}
	res := RotateResult{TokenID: parsed.JTI, UserID: parsed.Subject, FamilyID: parsed.FamilyID}

	stored, err := deps.LoadToken(ctx, parsed.JTI)
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			res.Failure, res.Err = RotateFailureNotFound, err
			return res
		}
		res.Failure, res.Err = RotateFailureLoad, err
		return res
	}
	if stored == nil || stored.UserID != parsed.Subject || stored.FamilyID != parsed.FamilyID {
		res.Failure = RotateFailureNotFound
		return res
	}
	res.DeviceID = stored.DeviceID

	owner, err := deps.LoadOwner(ctx, stored.UserID)
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			res.Failure, res.Err = RotateFailureAccountDisabled, err
			return res
		}
		res.Failure, res.Err = RotateFailureLoad, err
		return res
	}
	if owner == nil || !owner.Active {
		res.Failure = RotateFailureAccountDisabled
		return res
	}

	now := deps.Now()
	if !now.Before(stored.ExpiresAt) {
		res.Failure = RotateFailureExpired
		return res
	}
	if stored.RevokedAt != nil {
		res.Failure = RotateFailureRevoked
		return res
	}
	if stored.UsedAt != nil {
		return revokeForReplay(ctx, res, now, deps)
	}

	if deps.AllowRefresh != nil {
		if err := deps.AllowRefresh(ctx, stored.FamilyID); err != nil {
			res.Failure, res.Err = RotateFailureRateLimited, err
			return res
		}
	}

	child, err := deps.MintChild(*owner, stored.FamilyID, stored.DeviceID, now)
	if err != nil {
		res.Failure, res.Err = RotateFailureMint, err
		return res
	}
	access, err := deps.IssueAccess(*owner)
	if err != nil {
		res.Failure, res.Err = RotateFailureMint, err
		return res
	}

	won, err := deps.RotateStored(ctx, stored.ID, now, child)
	if err != nil {
		res.Failure, res.Err = RotateFailurePersist, err
		return res
	}
	if !won {
		// Another presentation of the same token marked it used first.
		return revokeForReplay(ctx, res, now, deps)
	}

	res.AccessToken = access
	res.RefreshToken = child.Token
	res.Child = child
	return res
}

func revokeForReplay(ctx context.Context, res RotateResult, now time.Time, deps RotateDeps) RotateResult {
	res.Failure = RotateFailureReplay
	revoked, err := deps.RevokeFamily(ctx, res.FamilyID, now)
	res.Revoked = revoked
	res.Err = err
	return res
}
