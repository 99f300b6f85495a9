package client

import (
	"context"

	"github.com/babylon-markets/a2a/types"
)

// Typed wrappers over Call, one per server method.

// Discover lists the agents currently connected to the mesh.
func (c *Client) Discover(ctx context.Context) ([]types.AgentProfile, error) {
	var out types.DiscoverResult
	if err := c.Call(ctx, types.MethodDiscover, nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// GetInfo fetches the directory profile of another agent.
func (c *Client) GetInfo(ctx context.Context, agentID string) (*types.AgentProfile, error) {
	var out types.AgentProfile
	err := c.Call(ctx, types.MethodGetInfo, types.GetInfoParams{AgentID: agentID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMarketData fetches one market's reference data.
func (c *Client) GetMarketData(ctx context.Context, marketID string) (*types.Market, error) {
	var out types.Market
	err := c.Call(ctx, types.MethodGetMarketData, types.MarketRef{MarketID: marketID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMarketPrices snapshots prices; an empty id list means every market.
func (c *Client) GetMarketPrices(ctx context.Context, marketIDs ...string) ([]types.Market, error) {
	var out types.MarketPricesResult
	err := c.Call(ctx, types.MethodGetMarketPrices, types.GetMarketPricesParams{MarketIDs: marketIDs}, &out)
	if err != nil {
		return nil, err
	}
	return out.Markets, nil
}

// SubscribeMarket starts delivery of a2a.marketUpdate for a market.
func (c *Client) SubscribeMarket(ctx context.Context, marketID string) (*types.SubscribeResult, error) {
	var out types.SubscribeResult
	err := c.Call(ctx, types.MethodSubscribeMarket, types.MarketRef{MarketID: marketID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnsubscribeMarket stops delivery for a market.
func (c *Client) UnsubscribeMarket(ctx context.Context, marketID string) error {
	return c.Call(ctx, types.MethodUnsubscribeMarket, types.MarketRef{MarketID: marketID}, nil)
}

// ProposeCoalition creates a coalition with the caller as first member.
func (c *Client) ProposeCoalition(ctx context.Context, p types.ProposeCoalitionParams) (*types.Coalition, error) {
	var out types.Coalition
	if err := c.Call(ctx, types.MethodProposeCoalition, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinCoalition adds the caller to a coalition. Joining twice is idempotent.
func (c *Client) JoinCoalition(ctx context.Context, coalitionID string) (*types.JoinCoalitionResult, error) {
	var out types.JoinCoalitionResult
	err := c.Call(ctx, types.MethodJoinCoalition, types.CoalitionRef{CoalitionID: coalitionID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LeaveCoalition removes the caller; leaving one it never joined is a no-op.
func (c *Client) LeaveCoalition(ctx context.Context, coalitionID string) (*types.LeaveCoalitionResult, error) {
	var out types.LeaveCoalitionResult
	err := c.Call(ctx, types.MethodLeaveCoalition, types.CoalitionRef{CoalitionID: coalitionID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendCoalitionMessage fans a message out to the other coalition members.
func (c *Client) SendCoalitionMessage(ctx context.Context, coalitionID, messageType string, content map[string]any) (int, error) {
	var out types.CoalitionMessageResult
	err := c.Call(ctx, types.MethodCoalitionMessage, types.CoalitionMessageParams{
		CoalitionID: coalitionID,
		MessageType: messageType,
		Content:     content,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Delivered, nil
}

// ShareAnalysis publishes a market analysis to the market's subscribers.
func (c *Client) ShareAnalysis(ctx context.Context, p types.ShareAnalysisParams) (*types.MarketAnalysis, error) {
	var out types.MarketAnalysis
	if err := c.Call(ctx, types.MethodShareAnalysis, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestAnalysis asks the market's subscribers for fresh analysis.
func (c *Client) RequestAnalysis(ctx context.Context, marketID string, bounty float64) (int, error) {
	var out types.RequestAnalysisResult
	err := c.Call(ctx, types.MethodRequestAnalysis, types.RequestAnalysisParams{
		MarketID: marketID,
		Bounty:   bounty,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Notified, nil
}

// GetAnalyses fetches the most recent analyses for a market, newest first.
func (c *Client) GetAnalyses(ctx context.Context, marketID string, limit int) ([]types.MarketAnalysis, error) {
	var out types.GetAnalysesResult
	err := c.Call(ctx, types.MethodGetAnalyses, types.GetAnalysesParams{
		MarketID: marketID,
		Limit:    limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Analyses, nil
}

// RequestPayment opens an x402 payment request addressed to another agent.
func (c *Client) RequestPayment(ctx context.Context, p types.PaymentRequestParams) (*types.PaymentRequest, error) {
	var out types.PaymentRequest
	if err := c.Call(ctx, types.MethodPaymentRequest, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitPaymentReceipt settles a payment request with a transaction hash.
func (c *Client) SubmitPaymentReceipt(ctx context.Context, requestID, txHash string) (*types.ReceiptResult, error) {
	var out types.ReceiptResult
	err := c.Call(ctx, types.MethodPaymentReceipt, types.PaymentReceiptParams{
		RequestID: requestID,
		TxHash:    txHash,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
