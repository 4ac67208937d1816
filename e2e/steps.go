package e2e

import (
	"github.com/cucumber/godog"

	"dukcapil/e2e/steps/common"
	"dukcapil/e2e/steps/workflow"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	workflow.RegisterSteps(ctx, tc)
}
