// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arcadian-ai/concierge/services/assistant/session"
	"github.com/arcadian-ai/concierge/services/llm"
)

var pipelineStageOrder = []string{
	stageIntent, stageContext, stageParse, stageResolve,
	stageSearch, stageKnowledge, stageGenerate, stageEnforce,
}

// =============================================================================
// Pipeline Tests
// =============================================================================

func TestProcess_AllStagesRecorded(t *testing.T) {
	o := NewOrchestrator(nil, newTestManager(t), nil, session.NewMemoryStore(time.Hour), nil)
	result := o.Process(context.Background(), "", "customers in NV")

	if !result.Success {
		t.Fatalf("Success = false, trace: %+v", result.Trace)
	}
	if result.Trace == nil || len(result.Trace.Stages) != len(pipelineStageOrder) {
		t.Fatalf("stage count = %d, want %d", len(result.Trace.Stages), len(pipelineStageOrder))
	}
	for i, want := range pipelineStageOrder {
		if result.Trace.Stages[i].Agent != want {
			t.Errorf("stage[%d] = %s, want %s", i, result.Trace.Stages[i].Agent, want)
		}
	}
}

func TestProcess_TotalTimeIsStageSum(t *testing.T) {
	o := NewOrchestrator(nil, newTestManager(t), nil, nil, nil)
	result := o.Process(context.Background(), "", "customers in NV")

	var sum int64
	for _, stage := range result.Trace.Stages {
		sum += stage.TimeMS
	}
	if result.Trace.TotalTimeMS != sum {
		t.Errorf("TotalTimeMS = %d, want stage sum %d", result.Trace.TotalTimeMS, sum)
	}
	if result.LatencyMS != result.Trace.TotalTimeMS {
		t.Errorf("LatencyMS = %d, want %d", result.LatencyMS, result.Trace.TotalTimeMS)
	}
}

func TestProcess_NoModelProducesTemplatedAnswer(t *testing.T) {
	o := NewOrchestrator(nil, newTestManager(t), nil, nil, nil)
	result := o.Process(context.Background(), "", "customers in NV")

	if !strings.HasPrefix(result.Response, "Found 3 customer(s):") {
		t.Errorf("Response = %q, want templated listing", result.Response)
	}
	if result.QualityScore <= 0 {
		t.Errorf("QualityScore = %.3f, want > 0", result.QualityScore)
	}
}

func TestProcess_ModelAnswerFlowsThrough(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{Content: "There are 3 customers in Nevada.", StopReason: "end", Model: "scripted"},
	}}
	o := NewOrchestrator(client, newTestManager(t), nil, nil, nil)

	result := o.Process(context.Background(), "", "customers in NV")
	if result.Response != "There are 3 customers in Nevada." {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestProcess_SessionHistoryInformsContext(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	s := session.New("s1")
	s.Append("user", "customers in NV with 3+ moves", session.DefaultMaxHistory)
	s.Append("assistant", "Found 2 customer(s): Jane Doe (CRID-000042)", session.DefaultMaxHistory)
	s.LastResults = []string{"CRID-000042", "CRID-000044"}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}

	o := NewOrchestrator(nil, newTestManager(t), nil, store, nil)
	result := o.Process(context.Background(), "s1", "tell me more about them")

	if !result.Success {
		t.Fatalf("Success = false")
	}
	var contextStage *StageRecord
	for i := range result.Trace.Stages {
		if result.Trace.Stages[i].Agent == stageContext {
			contextStage = &result.Trace.Stages[i]
		}
	}
	if contextStage == nil || !strings.Contains(contextStage.Summary, "follow_up=true") {
		t.Errorf("context stage = %+v, want follow_up=true", contextStage)
	}
}

func TestProcess_StateNotAvailableSurfaces(t *testing.T) {
	o := NewOrchestrator(nil, newTestManager(t), nil, nil, nil)
	result := o.Process(context.Background(), "", "customers in TX")

	if !strings.Contains(result.Response, "No customers in TX") {
		t.Errorf("Response = %q, want the available-states suggestion", result.Response)
	}
}
