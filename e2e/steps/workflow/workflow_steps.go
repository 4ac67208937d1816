package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario context these steps need.
type TestContext interface {
	As(actor string)
	Actor() string
	GET(path string) error
	POST(path string, body any) error
	POSTRaw(path string, body []byte) error
	Status() int
	Body() string
	Field(name string) (any, error)
	Save(key, value string)
	Var(key string) string
}

const registryOffice = "0xregistry"

// RegisterSteps registers the life-event workflow steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &workflowSteps{tc: tc}

	ctx.Step(`^village (\d+) "([^"]*)" is served by "([^"]*)"$`, steps.registerVillage)
	ctx.Step(`^"([^"]*)" is a citizen with NIK "([^"]*)"$`, steps.registerCitizen)
	ctx.Step(`^the cards in "([^"]*)" are seeded$`, steps.seedCards)

	ctx.Step(`^"([^"]*)" submits the birth of "([^"]*)" to father "([^"]*)" and mother "([^"]*)" in village (\d+)$`, steps.submitBirth)
	ctx.Step(`^"([^"]*)" (approves|rejects) the application at the village$`, steps.decideAtVillage)
	ctx.Step(`^"([^"]*)" approves the application at the registry$`, steps.approveAtRegistry)
	ctx.Step(`^"([^"]*)" cancels the application$`, steps.cancel)
	ctx.Step(`^the application status should be (\d+)$`, steps.statusShouldBe)
}

type workflowSteps struct {
	tc TestContext
}

// as runs fn on behalf of actor and restores the previous caller.
func (s *workflowSteps) as(actor string, fn func() error) error {
	prev := s.tc.Actor()
	s.tc.As(actor)
	defer s.tc.As(prev)
	return fn()
}

// expect accepts any of the given statuses. Bootstrap steps also accept 409
// so a scenario can rerun against the same server.
func (s *workflowSteps) expect(statuses ...int) error {
	for _, st := range statuses {
		if s.tc.Status() == st {
			return nil
		}
	}
	return fmt.Errorf("unexpected status %d: %s", s.tc.Status(), s.tc.Body())
}

func (s *workflowSteps) registerVillage(_ context.Context, villageID int, name, office string) error {
	return s.as(registryOffice, func() error {
		err := s.tc.POST("/identity/villages", map[string]any{
			"id":      villageID,
			"name":    name,
			"address": "Kantor Desa " + name,
			"office":  office,
		})
		if err != nil {
			return err
		}
		return s.expect(http.StatusCreated, http.StatusConflict)
	})
}

// registerCitizen has the registry office bind wallet to nik. The NIK must
// already be on a seeded card.
func (s *workflowSteps) registerCitizen(_ context.Context, wallet, nik string) error {
	return s.as(registryOffice, func() error {
		if err := s.tc.POST("/identity/citizens", map[string]string{"nik": nik, "wallet": wallet}); err != nil {
			return err
		}
		return s.expect(http.StatusCreated, http.StatusConflict)
	})
}

func (s *workflowSteps) seedCards(_ context.Context, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return s.as(registryOffice, func() error {
		if err := s.tc.POSTRaw("/cards/seed", raw); err != nil {
			return err
		}
		return s.expect(http.StatusCreated, http.StatusConflict)
	})
}

func (s *workflowSteps) submitBirth(_ context.Context, applicant, name, father, mother string, villageID int) error {
	return s.as(applicant, func() error {
		data, err := json.Marshal(map[string]string{
			"name":        name,
			"birth_place": "Sleman",
			"birth_date":  "2026-05-20",
			"sex":         "female",
			"religion":    "Islam",
			"nationality": "WNI",
			"father_nik":  father,
			"mother_nik":  mother,
		})
		if err != nil {
			return err
		}
		if err := s.tc.POST("/payloads", map[string]any{"event_type": "birth", "data": json.RawMessage(data)}); err != nil {
			return err
		}
		if err := s.expect(http.StatusCreated); err != nil {
			return err
		}
		cid, err := s.field("content_id")
		if err != nil {
			return err
		}
		err = s.tc.POST("/applications", map[string]any{
			"event_type":         "birth",
			"payload_content_id": cid,
			"origin_village_id":  villageID,
		})
		if err != nil {
			return err
		}
		if err := s.expect(http.StatusCreated); err != nil {
			return err
		}
		appID, err := s.field("id")
		if err != nil {
			return err
		}
		s.tc.Save("application_id", appID)
		s.tc.Save("applicant", applicant)
		return nil
	})
}

func (s *workflowSteps) decideAtVillage(_ context.Context, office, verdict string) error {
	body := map[string]any{"approved": verdict == "approves"}
	if verdict == "rejects" {
		body["reason"] = "dokumen pendukung tidak lengkap"
	}
	return s.as(office, func() error {
		if err := s.tc.POST(s.appPath()+"/village-verification", body); err != nil {
			return err
		}
		return s.expect(http.StatusOK)
	})
}

func (s *workflowSteps) approveAtRegistry(_ context.Context, office string) error {
	return s.as(office, func() error {
		if err := s.tc.POSTRaw("/documents", []byte(`{"akta":"kelahiran"}`)); err != nil {
			return err
		}
		if err := s.expect(http.StatusCreated); err != nil {
			return err
		}
		doc, err := s.field("content_id")
		if err != nil {
			return err
		}
		err = s.tc.POST(s.appPath()+"/registry-verification", map[string]any{
			"approved":             true,
			"official_document_id": doc,
		})
		if err != nil {
			return err
		}
		return s.expect(http.StatusOK)
	})
}

func (s *workflowSteps) cancel(_ context.Context, applicant string) error {
	return s.as(applicant, func() error {
		if err := s.tc.POST(s.appPath()+"/cancel", map[string]any{}); err != nil {
			return err
		}
		return s.expect(http.StatusOK)
	})
}

func (s *workflowSteps) statusShouldBe(_ context.Context, want int) error {
	return s.as(s.tc.Var("applicant"), func() error {
		if err := s.tc.GET(s.appPath()); err != nil {
			return err
		}
		if err := s.expect(http.StatusOK); err != nil {
			return err
		}
		got, err := s.field("status")
		if err != nil {
			return err
		}
		if got != strconv.Itoa(want) {
			return fmt.Errorf("expected status %d, got %s", want, got)
		}
		return nil
	})
}

func (s *workflowSteps) appPath() string {
	return "/applications/" + s.tc.Var("application_id")
}

func (s *workflowSteps) field(name string) (string, error) {
	v, err := s.tc.Field(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}
