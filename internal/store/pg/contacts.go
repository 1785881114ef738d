package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// ContactStore implements store.ContactStore. A Contact's ID is its
// canonical phone number: (tenant, phone) is the natural key the rest of
// the engine addresses a contact by, so no separate surrogate ID is minted.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore { return &ContactStore{db: db} }

func (s *ContactStore) GetOrCreate(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	if c, err := s.Get(ctx, tenant, phone); err == nil {
		return c, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	c := domain.NewContact(tenant, phone)
	c.ID = phone
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (
			tenant, phone_number, name, company, email, lead_status, journey_stage,
			engagement_level, information_preference, response_time_pattern,
			decision_making_style, technical_level, decision_maker, budget_range,
			timeline, industry_focus, company_size, prefer_as_examples,
			topics_discussed, questions_asked, pain_points_mentioned, goals_expressed,
			competitors_mentioned, field_confidence, conversation_count, total_interactions,
			first_contact_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (tenant, phone_number) DO NOTHING`,
		c.Tenant, c.PhoneNumber, nilStr(c.Name), nilStr(c.Company), nilStr(c.Email), c.LeadStatus, c.JourneyStage,
		c.EngagementLevel, nilStr(c.InformationPreference), c.ResponseTimePattern,
		nilStr(string(c.DecisionMakingStyle)), c.TechnicalLevel, c.DecisionMaker, nilStr(c.BudgetRange),
		nilStr(c.Timeline), nilStr(c.IndustryFocus), nilStr(c.CompanySize), c.PreferAsExamples,
		jsonOrEmpty(c.TopicsDiscussed), jsonOrEmpty(c.QuestionsAsked), jsonOrEmpty(c.PainPointsMentioned), jsonOrEmpty(c.GoalsExpressed),
		jsonOrEmpty(c.CompetitorsMentioned), jsonOrEmpty(c.FieldConfidence), c.ConversationCount, c.TotalInteractions,
		c.FirstContactAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: insert contact: %w", err)
	}
	return s.Get(ctx, tenant, phone)
}

func (s *ContactStore) Get(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT phone_number, name, company, email, lead_status, journey_stage,
			engagement_level, information_preference, response_time_pattern,
			decision_making_style, technical_level, decision_maker, budget_range,
			timeline, industry_focus, company_size, prefer_as_examples,
			topics_discussed, questions_asked, pain_points_mentioned, goals_expressed,
			competitors_mentioned, field_confidence, conversation_count, total_interactions,
			first_contact_at, updated_at
		 FROM contacts WHERE tenant = $1 AND phone_number = $2`, tenant, phone)

	var c domain.Contact
	var name, company, email, infoPref, decisionStyle, budget, timeline, industry, compSize *string
	var topics, questions, painPoints, goals, competitors, fieldConfidence []byte
	c.Tenant = tenant

	err := row.Scan(
		&c.PhoneNumber, &name, &company, &email, &c.LeadStatus, &c.JourneyStage,
		&c.EngagementLevel, &infoPref, &c.ResponseTimePattern,
		&decisionStyle, &c.TechnicalLevel, &c.DecisionMaker, &budget,
		&timeline, &industry, &compSize, &c.PreferAsExamples,
		&topics, &questions, &painPoints, &goals,
		&competitors, &fieldConfidence, &c.ConversationCount, &c.TotalInteractions,
		&c.FirstContactAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan contact: %w", err)
	}

	c.ID = c.PhoneNumber
	c.Name, c.Company, c.Email = derefStr(name), derefStr(company), derefStr(email)
	c.InformationPreference = derefStr(infoPref)
	c.DecisionMakingStyle = domain.DecisionMakingStyle(derefStr(decisionStyle))
	c.BudgetRange, c.Timeline, c.IndustryFocus, c.CompanySize = derefStr(budget), derefStr(timeline), derefStr(industry), derefStr(compSize)
	scanJSON(topics, &c.TopicsDiscussed)
	scanJSON(questions, &c.QuestionsAsked)
	scanJSON(painPoints, &c.PainPointsMentioned)
	scanJSON(goals, &c.GoalsExpressed)
	scanJSON(competitors, &c.CompetitorsMentioned)
	c.FieldConfidence = map[string]int{}
	scanJSON(fieldConfidence, &c.FieldConfidence)
	return &c, nil
}

// Update applies scalar overwrites and set-merges list fields in one
// transaction, reading the current row first since list union can't be
// expressed as a single UPDATE without a jsonb-merge helper (§8 property 8).
func (s *ContactStore) Update(ctx context.Context, tenant, phone string, fields store.ContactFields) (*domain.Contact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pg: begin update: %w", err)
	}
	defer tx.Rollback()

	current, err := s.Get(ctx, tenant, phone)
	if err != nil {
		return nil, err
	}

	if fields.Name != nil {
		current.Name = *fields.Name
	}
	if fields.Company != nil {
		current.Company = *fields.Company
	}
	if fields.Email != nil {
		current.Email = *fields.Email
	}
	if fields.LeadStatus != nil {
		current.LeadStatus = *fields.LeadStatus
	}
	if fields.JourneyStage != nil {
		current.JourneyStage = *fields.JourneyStage
	}
	if fields.EngagementLevel != nil {
		current.EngagementLevel = *fields.EngagementLevel
	}
	if fields.InformationPreference != nil {
		current.InformationPreference = *fields.InformationPreference
	}
	if fields.ResponseTimePattern != nil {
		current.ResponseTimePattern = *fields.ResponseTimePattern
	}
	if fields.DecisionMakingStyle != nil {
		current.DecisionMakingStyle = *fields.DecisionMakingStyle
	}
	if fields.TechnicalLevel != nil {
		current.TechnicalLevel = *fields.TechnicalLevel
	}
	if fields.DecisionMaker != nil {
		current.DecisionMaker = *fields.DecisionMaker
	}
	if fields.BudgetRange != nil {
		current.BudgetRange = *fields.BudgetRange
	}
	if fields.Timeline != nil {
		current.Timeline = *fields.Timeline
	}
	if fields.IndustryFocus != nil {
		current.IndustryFocus = *fields.IndustryFocus
	}
	if fields.CompanySize != nil {
		current.CompanySize = *fields.CompanySize
	}
	if fields.PreferAsExamples != nil {
		current.PreferAsExamples = *fields.PreferAsExamples
	}
	current.TopicsDiscussed = unionStrings(current.TopicsDiscussed, fields.TopicsDiscussed)
	current.QuestionsAsked = unionStrings(current.QuestionsAsked, fields.QuestionsAsked)
	current.PainPointsMentioned = unionStrings(current.PainPointsMentioned, fields.PainPointsMentioned)
	current.GoalsExpressed = unionStrings(current.GoalsExpressed, fields.GoalsExpressed)
	current.CompetitorsMentioned = unionStrings(current.CompetitorsMentioned, fields.CompetitorsMentioned)
	if current.FieldConfidence == nil {
		current.FieldConfidence = map[string]int{}
	}
	for field, conf := range fields.FieldConfidence {
		current.FieldConfidence[field] = conf
	}
	if fields.IncrConversationCount {
		current.ConversationCount++
	}
	if fields.IncrTotalInteractions {
		current.TotalInteractions++
	}
	current.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE contacts SET
			name=$1, company=$2, email=$3, lead_status=$4, journey_stage=$5,
			engagement_level=$6, information_preference=$7, response_time_pattern=$8,
			decision_making_style=$9, technical_level=$10, decision_maker=$11, budget_range=$12,
			timeline=$13, industry_focus=$14, company_size=$15, prefer_as_examples=$16,
			topics_discussed=$17, questions_asked=$18, pain_points_mentioned=$19, goals_expressed=$20,
			competitors_mentioned=$21, field_confidence=$22, conversation_count=$23, total_interactions=$24, updated_at=$25
		 WHERE tenant=$26 AND phone_number=$27`,
		nilStr(current.Name), nilStr(current.Company), nilStr(current.Email), current.LeadStatus, current.JourneyStage,
		current.EngagementLevel, nilStr(current.InformationPreference), current.ResponseTimePattern,
		nilStr(string(current.DecisionMakingStyle)), current.TechnicalLevel, current.DecisionMaker, nilStr(current.BudgetRange),
		nilStr(current.Timeline), nilStr(current.IndustryFocus), nilStr(current.CompanySize), current.PreferAsExamples,
		jsonOrEmpty(current.TopicsDiscussed), jsonOrEmpty(current.QuestionsAsked), jsonOrEmpty(current.PainPointsMentioned), jsonOrEmpty(current.GoalsExpressed),
		jsonOrEmpty(current.CompetitorsMentioned), jsonOrEmpty(current.FieldConfidence), current.ConversationCount, current.TotalInteractions, current.UpdatedAt,
		tenant, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: update contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pg: commit update: %w", err)
	}
	return current, nil
}

func unionStrings(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	out := existing
	for _, v := range add {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
