package signal

import (
	"context"
	"errors"
	"testing"

	"crypto-signal-bot-go/internal/alarms"
	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/history"
	"crypto-signal-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockRestClient is a mock implementation of coinmarketcap.RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetQuote(ctx context.Context, symbol string) (*coinmarketcap.Quote, error) {
	args := m.Called(ctx, symbol)
	if q := args.Get(0); q != nil {
		return q.(*coinmarketcap.Quote), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRestClient) GetListings(ctx context.Context, limit int) ([]coinmarketcap.Quote, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]coinmarketcap.Quote), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, rec *models.SignalRecord) bool {
	return m.Called(ctx, rec).Bool(0)
}

func (m *MockNotifier) Send(ctx context.Context, text string) bool {
	return m.Called(ctx, text).Bool(0)
}

// failingRepository rejects every insert.
type failingRepository struct {
	database.SignalRepository
}

func (failingRepository) Insert(ctx context.Context, rec *models.SignalRecord) error {
	return &database.PersistenceError{Op: "insert", Err: errors.New("disk full")}
}

type fixture struct {
	client   *MockRestClient
	notifier *MockNotifier
	store    *history.Store
	alarms   *alarms.Service
	repo     *database.GormRepository
	gen      *Generator
}

func setupGenerator(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	fx := &fixture{
		client:   new(MockRestClient),
		notifier: new(MockNotifier),
		store:    history.NewStore(db, history.DefaultRetention),
		alarms:   alarms.NewService(db, alarms.DefaultTolerance, zap.NewNop()),
		repo:     database.NewGormRepository(db),
	}
	fx.gen = NewGenerator(fx.client, fx.store, fx.alarms, fx.repo, fx.notifier, nil, zap.NewNop())
	return fx
}

// seed appends n ascending prices starting at 100.
func (fx *fixture) seed(t *testing.T, coin string, n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, fx.store.Append(context.Background(), coin, 100+float64(i), 1))
	}
}

func btcSettings(threshold float64) config.SymbolConfig {
	return config.SymbolConfig{
		Coin:                 "BTC",
		Timeframe:            "24h",
		Threshold:            threshold,
		ThresholdMode:        config.ThresholdModeManual,
		Active:               config.Bool(true),
		Status:               config.StatusActive,
		FetchIntervalMinutes: 1,
	}
}

func quote(price float64) *coinmarketcap.Quote {
	return &coinmarketcap.Quote{
		Symbol: "BTC",
		Features: models.Features{
			Price:            price,
			PercentChange1h:  5,
			PercentChange24h: 5,
			Volume24h:        1000,
		},
	}
}

func TestGenerator_Process(t *testing.T) {
	t.Run("JumpAfterAscendingRunFiresLong", func(t *testing.T) {
		// Arrange
		fx := setupGenerator(t)
		fx.seed(t, "BTC", 25)
		price := 124 * 1.05
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(price), nil).Once()
		fx.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(rec *models.SignalRecord) bool {
			return rec.Coin == "BTC" && rec.SignalType == models.SignalLong
		})).Return(true).Once()
		ctx := context.Background()

		// Act
		fired, err := fx.gen.Process(ctx, btcSettings(0.5))

		// Assert
		require.NoError(t, err)
		assert.True(t, fired)

		recs, err := fx.repo.Query(ctx, database.Filter{Coin: "BTC"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.Equal(t, models.SignalLong, rec.SignalType)
		assert.Equal(t, models.StatusActive, rec.SignalStatus)
		assert.Equal(t, 36.5, rec.Probability)
		assert.Equal(t, 36.0, rec.ConfidenceScore)
		assert.Equal(t, 0.5, rec.ThresholdUsed)
		assert.InDelta(t, price, rec.EntryPrice, 1e-9)
		assert.InDelta(t, price*1.09, rec.TakeProfit, 1e-6)
		assert.InDelta(t, price*0.97, rec.StopLoss, 1e-6)
		assert.Greater(t, rec.TakeProfit, rec.EntryPrice)
		assert.Equal(t, "OVERBOUGHT", rec.RSISignal)
		assert.Equal(t, "NEUTRAL", rec.MACDSignal)

		features, err := rec.DecodeFeatures()
		require.NoError(t, err)
		assert.InDelta(t, price, features.Price, 1e-9)

		active, err := fx.alarms.Active(ctx, "BTC")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, rec.ID, active[0].SignalID)
		assert.InDelta(t, price, active[0].TargetPrice, 1e-9)

		fx.client.AssertExpectations(t)
		fx.notifier.AssertExpectations(t)
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		fx := setupGenerator(t)
		fx.seed(t, "BTC", 25)
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(124*1.05), nil).Once()

		fired, err := fx.gen.Process(context.Background(), btcSettings(50))

		require.NoError(t, err)
		assert.False(t, fired)
		recs, err := fx.repo.Query(context.Background(), database.Filter{})
		require.NoError(t, err)
		assert.Empty(t, recs)
		fx.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	})

	t.Run("AppendsHistory", func(t *testing.T) {
		fx := setupGenerator(t)
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(50), nil).Once()
		fx.notifier.On("Notify", mock.Anything, mock.Anything).Return(true).Maybe()

		_, err := fx.gen.Process(context.Background(), btcSettings(99))
		require.NoError(t, err)

		prices, err := fx.store.Recent(context.Background(), "BTC", 10)
		require.NoError(t, err)
		assert.Equal(t, []float64{50}, prices)
	})

	t.Run("FetchErrorPropagates", func(t *testing.T) {
		fx := setupGenerator(t)
		fetchErr := &coinmarketcap.FetchError{Op: "quote", Symbol: "BTC", Err: errors.New("timeout")}
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(nil, fetchErr).Once()

		fired, err := fx.gen.Process(context.Background(), btcSettings(1))

		assert.False(t, fired)
		var fe *coinmarketcap.FetchError
		assert.ErrorAs(t, err, &fe)
	})

	t.Run("MalformedQuoteIsNoSignal", func(t *testing.T) {
		fx := setupGenerator(t)
		extractErr := &coinmarketcap.FeatureExtractionError{Symbol: "BTC", Reason: "missing USD quote"}
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(nil, extractErr).Once()

		fired, err := fx.gen.Process(context.Background(), btcSettings(1))

		assert.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("PersistenceErrorPropagates", func(t *testing.T) {
		fx := setupGenerator(t)
		fx.seed(t, "BTC", 25)
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(124*1.05), nil).Once()
		fx.gen.repo = failingRepository{}

		fired, err := fx.gen.Process(context.Background(), btcSettings(4))

		assert.False(t, fired)
		var pe *database.PersistenceError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "insert", pe.Op)
		fx.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		active, err := fx.alarms.Active(context.Background(), "BTC")
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("NotificationFailureKeepsSignal", func(t *testing.T) {
		fx := setupGenerator(t)
		fx.seed(t, "BTC", 25)
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(124*1.05), nil).Once()
		fx.notifier.On("Notify", mock.Anything, mock.Anything).Return(false).Once()

		fired, err := fx.gen.Process(context.Background(), btcSettings(4))

		require.NoError(t, err)
		assert.True(t, fired)
		recs, err := fx.repo.Query(context.Background(), database.Filter{})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("TriggersAlarm", func(t *testing.T) {
		fx := setupGenerator(t)
		ctx := context.Background()
		_, err := fx.alarms.Create(ctx, &models.SignalRecord{ID: "sig-1", Coin: "BTC", SignalType: models.SignalLong, EntryPrice: 50})
		require.NoError(t, err)
		fx.client.On("GetQuote", mock.Anything, "BTC").Return(quote(50.1), nil).Once()
		fx.notifier.On("Send", mock.Anything, mock.AnythingOfType("string")).Return(true).Once()

		_, err = fx.gen.Process(ctx, btcSettings(99))

		require.NoError(t, err)
		active, err := fx.alarms.Active(ctx, "BTC")
		require.NoError(t, err)
		assert.Empty(t, active)
		fx.notifier.AssertExpectations(t)
	})
}
