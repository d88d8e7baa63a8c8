package sqlinline

const QSelectUserProfile = `--sql 8deadb97-a89a-43b5-a7fb-a5ecd331a991
select coalesce(questionare::text, '')
from users
where user_id = $1::uuid;
`
