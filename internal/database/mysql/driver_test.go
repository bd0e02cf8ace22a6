package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denwal/poolgate/internal/database"
)

func testConfig() database.Config {
	cfg := database.DefaultConfig()
	cfg.Driver = database.DriverMySQL
	cfg.Host = "db.internal"
	cfg.Name = "app"
	cfg.User = "svc"
	cfg.Password = "s3cret"
	return cfg
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(testConfig())

	parsed, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)

	assert.Equal(t, "svc", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "app", parsed.DBName)
	assert.True(t, parsed.ParseTime, "time columns must scan into time.Time")
	assert.Equal(t, "true", parsed.TLSConfig)
}

func TestTLSParam(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{"disable", "false"},
		{"require", "true"},
		{"skip-verify", "skip-verify"},
		{"", "preferred"},
		{"custom-registered", "custom-registered"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			assert.Equal(t, tt.want, tlsParam(tt.mode))
		})
	}
}

func TestDriver_Ping(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	d := &Driver{db: mockDB}
	defer d.Close()

	mock.ExpectPing()

	assert.NoError(t, d.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_QueryThroughConn(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	d := &Driver{db: mockDB}
	defer d.Close()

	cols := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
	).AddRow(int64(1), "ada").AddRow(int64(2), "grace")

	mock.ExpectQuery("SELECT id, name FROM users").WillReturnRows(cols)

	conn, err := d.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	rows, err := conn.Query(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)

	result, err := database.Collect(rows)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, []database.Field{
		{Name: "id", DataType: "BIGINT"},
		{Name: "name", DataType: "VARCHAR"},
	}, result.Fields)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "ada", result.Rows[0]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_ExecThroughConn(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	d := &Driver{db: mockDB}
	defer d.Close()

	mock.ExpectExec("INSERT INTO `users`").
		WithArgs(int64(1), "ada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	conn, err := d.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	affected, err := conn.Exec(context.Background(),
		"INSERT INTO `users` (`id`, `name`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `name` = VALUES(`name`)",
		int64(1), "ada")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Stat(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	d := &Driver{db: mockDB}
	defer d.Close()

	mockDB.SetMaxOpenConns(10)

	stat := d.Stat()
	assert.Equal(t, int32(10), stat.MaxConns)
	assert.GreaterOrEqual(t, stat.TotalConns, int32(0))
}
