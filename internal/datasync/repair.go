package datasync

import (
	"context"

	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/metrics"
	"alpha-trade-engine/internal/monitor"
)

// CheckAndRepairDataConsistency runs the four reconciliation passes:
// confirmed entries without a position, submitted exits that never
// resolved, failed exits awaiting a retry, and positions whose execution
// is already settled. Individual failures are logged and skipped so one
// bad row cannot stall the loop.
func (s *Service) CheckAndRepairDataConsistency(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	s.repairMissingPositions(ctx, report)
	s.repairStuckExits(ctx, report)
	s.retryFailedExits(ctx, report)
	s.removeOrphanPositions(ctx, report)

	if report.MissingPositions+report.StuckExitsResolved+report.ExitRetries+report.OrphansRemoved > 0 {
		s.logger.Info().
			Int("missing_positions", report.MissingPositions).
			Int("stuck_exits", report.StuckExitsResolved).
			Int("exit_retries", report.ExitRetries).
			Int("orphans", report.OrphansRemoved).
			Msg("Consistency repairs applied")
	}
	return report, nil
}

// Pass (i): CONFIRMED/HOLDING executions with no position row
func (s *Service) repairMissingPositions(ctx context.Context, report *RepairReport) {
	executions, err := s.store.GetExecutionsMissingPosition(ctx, s.now().Add(-RecoveryWindow))
	if err != nil {
		s.logger.Error().Err(err).Msg("Missing-position scan failed")
		return
	}
	for _, exec := range executions {
		if err := s.OnTradeEntry(ctx, exec.ID); err != nil {
			s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to re-project position")
			continue
		}
		report.MissingPositions++
		metrics.RepairActions.WithLabelValues("missing_position").Inc()
	}
}

// Pass (ii): HOLDING executions whose submitted exit never resolved
func (s *Service) repairStuckExits(ctx context.Context, report *RepairReport) {
	executions, err := s.store.GetStuckExits(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stuck-exit scan failed")
		return
	}
	for _, exec := range executions {
		if exec.ExitTxHash == nil || *exec.ExitTxHash == "" {
			continue
		}
		c, err := s.registry.Resolve(exec.Chain)
		if err != nil {
			s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Unsupported chain on stuck exit")
			continue
		}
		status, err := s.chains.TransactionStatus(ctx, c, *exec.ExitTxHash)
		if err != nil {
			continue // still pending or node unreachable, next run
		}

		positionID := database.PositionID(exec.ID)
		switch status {
		case chain.TxConfirmed:
			p, err := s.store.GetPositionByExecution(ctx, exec.ID)
			if err != nil {
				s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Stuck exit confirmed but position missing")
				continue
			}
			exitType := database.ExitTypeTakeProfit
			if exec.ExitType != nil && *exec.ExitType != "" {
				exitType = *exec.ExitType
			}
			if err := s.exits.FinalizeExit(ctx, exec, p, "", exitType, c); err != nil {
				s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to finalize stuck exit")
				continue
			}
			report.StuckExitsResolved++
			metrics.RepairActions.WithLabelValues("stuck_exit").Inc()

		case chain.TxFailed:
			attempt := monitor.ParseRetryCount(exec.ErrorMessage) + 1
			msg := monitor.FormatRetryError(attempt, "exit transaction reverted")
			if err := s.store.UpdateExecutionStatus(ctx, exec.ID, database.ExecStatusFailed, &msg); err != nil {
				s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to mark reverted exit")
				continue
			}
			if err := s.store.UpdatePositionStatus(ctx, positionID, database.PositionStatusHolding); err != nil {
				s.logger.Error().Err(err).Str("position_id", positionID).Msg("Failed to release reverted exit claim")
			}
			report.StuckExitsResolved++
			metrics.RepairActions.WithLabelValues("stuck_exit").Inc()
		}
	}
}

// Pass (iii): FAILED exits with a live position, retried up to the cap
// with spacing between attempts
func (s *Service) retryFailedExits(ctx context.Context, report *RepairReport) {
	executions, err := s.store.GetFailedExitExecutions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed-exit scan failed")
		return
	}
	for i, exec := range executions {
		attempts := monitor.ParseRetryCount(exec.ErrorMessage)
		if attempts >= MaxExitRetries {
			s.logger.Warn().
				Str("execution_id", exec.ID).
				Int("attempts", attempts).
				Msg("Exit retry cap reached, manual intervention needed")
			continue
		}
		if i > 0 {
			if err := s.wait(ctx, RetrySpacing); err != nil {
				return
			}
		}
		exitType := database.ExitTypeStopLoss
		if exec.ExitType != nil && *exec.ExitType != "" {
			exitType = *exec.ExitType
		}
		if err := s.exits.ExecuteExit(ctx, exec.ID, exitType, "repair retry"); err != nil {
			s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Exit retry failed")
			continue
		}
		report.ExitRetries++
		metrics.RepairActions.WithLabelValues("exit_retry").Inc()
	}
}

// Pass (iv): positions whose execution is EXITED or gone
func (s *Service) removeOrphanPositions(ctx context.Context, report *RepairReport) {
	positions, err := s.store.GetOrphanPositions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Orphan scan failed")
		return
	}
	for _, p := range positions {
		// Settle through the normal path when the execution is EXITED so
		// history is not lost; plain delete otherwise.
		if exec, err := s.store.GetExecution(ctx, p.ExecutionID); err == nil && exec.Status == database.ExecStatusExited {
			if err := s.OnTradeExit(ctx, p.ExecutionID); err == nil {
				report.OrphansRemoved++
				metrics.RepairActions.WithLabelValues("orphan_position").Inc()
				continue
			}
		}
		if err := s.store.DeletePosition(ctx, p.ID); err != nil {
			s.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to delete orphan position")
			continue
		}
		report.OrphansRemoved++
		metrics.RepairActions.WithLabelValues("orphan_position").Inc()
	}
}
