package app

import (
	"context"
	"strings"

	"authorsapi/internal/util"
	"authorsapi/pkg/domain"
	"authorsapi/pkg/store"
)

// CompanyInput is the payload of a company creation.
type CompanyInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Origin      string `json:"origin" validate:"required,max=100"`
	Description string `json:"description" validate:"required,max=255"`
}

// CompanyDetail is a company with its owner.
type CompanyDetail struct {
	Company domain.Company
	Owner   domain.User
}

// CreateCompany registers a company owned by actor.
func (a *App) CreateCompany(ctx context.Context, actor domain.User, in CompanyInput) (CompanyDetail, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Origin = strings.TrimSpace(in.Origin)
	in.Description = strings.TrimSpace(in.Description)
	if err := a.check(in); err != nil {
		return CompanyDetail{}, err
	}
	now := a.now()
	company := domain.Company{
		ID:          util.NewID(),
		Name:        in.Name,
		Origin:      in.Origin,
		Description: in.Description,
		OwnerID:     actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		if _, taken, err := tx.GetCompanyByName(ctx, company.Name); err != nil {
			return err
		} else if taken {
			return conflict("Company name already in use")
		}
		return tx.SaveCompany(ctx, company)
	})
	if err != nil {
		return CompanyDetail{}, fromStore(err)
	}
	return CompanyDetail{Company: company, Owner: actor}, nil
}

func (a *App) GetCompany(ctx context.Context, id string) (CompanyDetail, error) {
	c, ok, err := a.store.GetCompany(ctx, id)
	if err != nil {
		return CompanyDetail{}, internalError(err)
	}
	if !ok {
		return CompanyDetail{}, notFound("Company not found")
	}
	owner, _, err := a.store.GetUserByID(ctx, c.OwnerID)
	if err != nil {
		return CompanyDetail{}, internalError(err)
	}
	return CompanyDetail{Company: c, Owner: owner}, nil
}

func (a *App) ListCompanies(ctx context.Context) ([]CompanyDetail, error) {
	companies, err := a.store.ListCompanies(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	owners, err := a.usersByID(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]CompanyDetail, 0, len(companies))
	for _, c := range companies {
		res = append(res, CompanyDetail{Company: c, Owner: owners[c.OwnerID]})
	}
	return res, nil
}

// UpdateCompany changes name, origin or description. The owner never changes.
func (a *App) UpdateCompany(ctx context.Context, actor domain.User, id string, patch domain.CompanyPatch) (CompanyDetail, error) {
	patch.Name = trimPtr(patch.Name)
	patch.Origin = trimPtr(patch.Origin)
	patch.Description = trimPtr(patch.Description)
	for name, v := range map[string]*string{"name": patch.Name, "origin": patch.Origin, "description": patch.Description} {
		if v != nil && *v == "" {
			return CompanyDetail{}, badRequest("%s cannot be empty", name)
		}
	}
	var updated domain.Company
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		c, ok, err := tx.GetCompany(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Company not found")
		}
		if !CanMutate(actor, c.OwnerID) {
			return forbidden("You are not authorised to update the company details")
		}
		if patch.Name != nil && *patch.Name != c.Name {
			if other, taken, err := tx.GetCompanyByName(ctx, *patch.Name); err != nil {
				return err
			} else if taken && other.ID != c.ID {
				return conflict("Company name already in use")
			}
			c.Name = *patch.Name
		}
		if patch.Origin != nil {
			c.Origin = *patch.Origin
		}
		if patch.Description != nil {
			c.Description = *patch.Description
		}
		c.UpdatedAt = a.now()
		updated = c
		return tx.SaveCompany(ctx, c)
	})
	if err != nil {
		return CompanyDetail{}, fromStore(err)
	}
	owner, _, err := a.store.GetUserByID(ctx, updated.OwnerID)
	if err != nil {
		return CompanyDetail{}, internalError(err)
	}
	return CompanyDetail{Company: updated, Owner: owner}, nil
}

// DeleteCompany removes the company and every book it published.
func (a *App) DeleteCompany(ctx context.Context, actor domain.User, id string) (domain.DeletionRecord, error) {
	return a.cascade(ctx, actor, domain.DeletionCompany, id, func(tx store.Tx) (cascadePlan, error) {
		c, ok, err := tx.GetCompany(ctx, id)
		if err != nil {
			return cascadePlan{}, err
		}
		if !ok {
			return cascadePlan{}, notFound("Company not found")
		}
		if !CanMutate(actor, c.OwnerID) {
			return cascadePlan{}, forbidden("You are not authorised to delete the company details")
		}
		return planCompanyDeletion(ctx, tx, id)
	})
}

func (a *App) usersByID(ctx context.Context) (map[string]domain.User, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	res := make(map[string]domain.User, len(users))
	for _, u := range users {
		res[u.ID] = u
	}
	return res, nil
}
