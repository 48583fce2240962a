// Package memory is the client side of the external agent-memory service that
// holds each NPC's persistent memory.
//
// The service is consumed through a small operation set:
//
//   - GetBlock / UpdateBlock: read and overwrite a labelled core-memory block
//     (for example the "status" block holding location and activity).
//   - UpsertMember: merge one group member record into the NPC's
//     "group_members" block.
//   - SendMessage: deliver a message to the NPC agent and receive its reply
//     together with any structured action the agent chose.
//
// Every call returns a Result or Reply value. Transport and service failures
// are returned as errors wrapping ErrServiceFailed so callers can log and
// degrade without inspecting HTTP details:
//
//	svc := memory.NewHTTPService(memory.HTTPOptions{BaseURL: "http://localhost:8283"})
//	res, err := svc.UpdateBlock(ctx, agentID, memory.BlockStatus, "Location: Chipotle")
//	if err != nil {
//	    logger.Error("status update failed", "agent_id", agentID, "error", err)
//	}
package memory
