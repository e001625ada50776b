package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entitlement-engine-go/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type SeedMember struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type SeedOwner struct {
	Name       string       `yaml:"name"`
	Email      string       `yaml:"email"`
	ReferredBy string       `yaml:"referred_by"`
	Members    []SeedMember `yaml:"members"`
}

type SeedConfig struct {
	Owners []SeedOwner `yaml:"owners"`
}

// SeedDirectory creates the accounts listed in a seed file.
type SeedDirectory interface {
	AccountFinder
	CreateOwner(ctx context.Context, name, email string) (*models.Account, error)
	AddMember(ctx context.Context, ownerId, name, email string, role models.Role) (*models.Account, error)
}

// SeedReferrals records referral edges between seeded owners.
type SeedReferrals interface {
	RecordReferral(ctx context.Context, referrerId, referredId string) (*models.ReferralEdge, error)
}

// SeedResult counts what ApplySeed created.
type SeedResult struct {
	Owners    int
	Members   int
	Referrals int
	Skipped   int
}

func LoadSeedConfig(seedFile string) ([]SeedOwner, error) {
	var seedPath string
	if filepath.IsAbs(seedFile) {
		seedPath = seedFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		seedPath = filepath.Join(wd, seedFile)
	}

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", seedFile, err)
	}

	return ParseSeedConfig(data)
}

func ParseSeedConfig(data []byte) ([]SeedOwner, error) {
	var config SeedConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse seed file: %w", err)
	}

	for i, owner := range config.Owners {
		if owner.Name == "" || owner.Email == "" {
			return nil, fmt.Errorf("owner at index %d missing name or email", i)
		}
		for j, member := range owner.Members {
			if member.Name == "" || member.Email == "" {
				return nil, fmt.Errorf("member %d of %s missing name or email", j, owner.Email)
			}
			role, err := models.ParseRole(member.Role)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", member.Email, err)
			}
			if role == models.RoleOwner {
				return nil, fmt.Errorf("member %s cannot have the owner role", member.Email)
			}
		}
	}

	return config.Owners, nil
}

// ApplySeed creates every owner and member that does not exist yet, then
// records referrals. Running it twice creates nothing new.
func ApplySeed(ctx context.Context, dir SeedDirectory, referrals SeedReferrals, owners []SeedOwner) (*SeedResult, error) {
	result := &SeedResult{}
	ids := make(map[string]string, len(owners))

	for _, owner := range owners {
		account, created, err := findOrCreate(ctx, dir, owner.Email, func() (*models.Account, error) {
			return dir.CreateOwner(ctx, owner.Name, owner.Email)
		})
		if err != nil {
			return result, err
		}
		ids[strings.ToLower(owner.Email)] = account.Id
		if created {
			result.Owners++
		} else {
			result.Skipped++
		}

		for _, member := range owner.Members {
			role, _ := models.ParseRole(member.Role)
			_, created, err := findOrCreate(ctx, dir, member.Email, func() (*models.Account, error) {
				return dir.AddMember(ctx, account.Id, member.Name, member.Email, role)
			})
			if err != nil {
				return result, err
			}
			if created {
				result.Members++
			} else {
				result.Skipped++
			}
		}
	}

	for _, owner := range owners {
		if owner.ReferredBy == "" {
			continue
		}
		referrerId, ok := ids[strings.ToLower(owner.ReferredBy)]
		if !ok {
			referrer, err := FindAccount(ctx, dir, owner.ReferredBy)
			if err != nil {
				return result, err
			}
			referrerId = referrer.Id
		}
		_, err := referrals.RecordReferral(ctx, referrerId, ids[strings.ToLower(owner.Email)])
		switch {
		case err == nil:
			result.Referrals++
		case errors.Is(err, models.ErrDuplicateEvent):
			result.Skipped++
		default:
			return result, fmt.Errorf("referral of %s: %w", owner.Email, err)
		}
	}

	zap.L().Info("Seed applied",
		zap.Int("owners", result.Owners),
		zap.Int("members", result.Members),
		zap.Int("referrals", result.Referrals),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func findOrCreate(ctx context.Context, dir SeedDirectory, email string, create func() (*models.Account, error)) (*models.Account, bool, error) {
	existing, err := dir.AccountByEmail(ctx, strings.ToLower(email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}
	account, err := create()
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}
