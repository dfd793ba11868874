package research

import (
	"context"
	"sync"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// scriptedLLM is a deterministic llm.Service for tests. Behavior is supplied
// per call kind; unset hooks fail loudly via nil dereference so a test that
// exercises an unexpected path is caught immediately.
type scriptedLLM struct {
	mu        sync.Mutex
	chatCalls int
	toolCalls int

	chatFn       func(call int, messages []llm.Message) (string, error)
	structuredFn func(messages []llm.Message, out any) error
	toolsFn      func(call int, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, error)
}

var testStats = &llm.CallStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	s.mu.Lock()
	s.chatCalls++
	call := s.chatCalls
	s.mu.Unlock()
	reply, err := s.chatFn(call, messages)
	if err != nil {
		return "", nil, err
	}
	return reply, testStats, nil
}

func (s *scriptedLLM) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, *llm.CallStats, error) {
	s.mu.Lock()
	s.toolCalls++
	call := s.toolCalls
	s.mu.Unlock()
	resp, err := s.toolsFn(call, messages, tools)
	if err != nil {
		return nil, nil, err
	}
	return resp, testStats, nil
}

func (s *scriptedLLM) ChatStructured(ctx context.Context, messages []llm.Message, out any) (*llm.CallStats, error) {
	if err := s.structuredFn(messages, out); err != nil {
		return nil, err
	}
	return testStats, nil
}

func (s *scriptedLLM) Warmup(ctx context.Context) {}

// toolCall builds one coordinator capability request.
func toolCall(name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       "call_" + name,
		Type:     "function",
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

// fillStructured routes scripted structured outputs by destination type.
func fillStructured(out any, clar *Clarifications, plan *SearchPlan, report *ReportData, subject string) {
	switch v := out.(type) {
	case *Clarifications:
		*v = *clar
	case *SearchPlan:
		*v = *plan
	case *ReportData:
		*v = *report
	case *mailSubject:
		v.Subject = subject
	}
}
