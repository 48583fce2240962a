// Package llm generates NPC replies with a chat-completion model.
//
// The package is split in two layers:
//   - Completer is the raw model call (OpenAI implements it with openai-go).
//   - Responder turns a conversation into an NPCResponse and never fails:
//     refusals, truncated output and transport errors each map to a fixed
//     in-character fallback line with ActionNone.
//
// # Message Types
//
//	msg := llm.Message{
//	    Role:    llm.RoleUser,
//	    Content: "Can you follow me?",
//	}
//
// # Completion Requests
//
// Use functional options to configure the request:
//
//	req := llm.NewCompletionRequest(systemPrompt, history,
//	    llm.WithTemperature(0.7),
//	    llm.WithMaxTokens(200),
//	)
//
// # NPC Responses
//
// The model is asked for a JSON document of the form
//
//	{"message": "...", "action": {"type": "follow", "data": {}}}
//
// where the action type is one of follow, unfollow, stop_talking or none.
//
//	responder := llm.NewResponder(llm.NewOpenAI(llm.OpenAIOptions{APIKey: key}), logger)
//	resp := responder.Respond(ctx, systemPrompt, history)
//	if resp.Action.Type == llm.ActionStopTalking {
//	    // end the conversation
//	}
package llm
